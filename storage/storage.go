// Package storage handles persistence of case records, users, and
// notification outcomes as JSON blobs in Cloud Storage or a local
// directory.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"courtwatch/pkg/courtcase"
)

var errObjectNotFound = errors.New("storage: object doesn't exist")

// Store persists cases and users. Objects live either in a GCS bucket or
// under a local directory (development mode).
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
}

// New creates a new storage handler. When localPath is non-empty the
// store operates on the local filesystem and the client may be nil.
func New(client *storage.Client, bucket, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// TokenFromContact derives a deterministic, unguessable token from a
// contact address. Uses HMAC-SHA256 with a secret salt so tokens cannot
// be guessed without the salt.
func (s *Store) TokenFromContact(contact string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(contact))))
	return hex.EncodeToString(h.Sum(nil))
}

// UserKey generates a stable object name from a token. Validates that
// the token is a 64-character hex string to prevent path traversal.
// Uses constant-time validation to prevent timing attacks.
func UserKey(token string) string {
	if len(token) != 64 {
		return ""
	}

	valid := 1
	for _, c := range token {
		isHexDigit := ((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
		if !isHexDigit {
			valid = 0
		}
	}
	if valid == 0 {
		return ""
	}

	return fmt.Sprintf("user-%s.json", token)
}

// CaseKey generates a stable object name from a cino. Validates the cino
// against path traversal; CNR numbers are alphanumeric.
func CaseKey(cino string) string {
	if cino == "" || len(cino) > 32 {
		return ""
	}
	for _, c := range cino {
		isAlnum := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !isAlnum {
			return ""
		}
	}
	return fmt.Sprintf("case-%s.json", strings.ToUpper(cino))
}

// IsNotFound checks if an error indicates a missing object.
func IsNotFound(err error) bool {
	return err != nil && (errors.Is(err, errObjectNotFound) ||
		strings.Contains(err.Error(), "storage: object doesn't exist"))
}

// SaveCase saves a case record. The snapshot, fingerprint, and
// notification bookkeeping travel in one write so a crash between
// detection and dispatch cannot leave them out of step.
func (s *Store) SaveCase(ctx context.Context, rec *courtcase.CaseRecord) error {
	key := CaseKey(rec.Cino)
	if key == "" {
		return fmt.Errorf("invalid cino %q", rec.Cino)
	}
	s.logger.Debug("Saving case record", "key", key, "cino", rec.Cino)

	if err := s.writeObject(ctx, key, rec); err != nil {
		return err
	}
	s.logger.Info("Case record saved", "key", key, "cino", rec.Cino, "fingerprint", rec.Fingerprint)
	return nil
}

// LoadCase loads a case record by cino.
func (s *Store) LoadCase(ctx context.Context, cino string) (*courtcase.CaseRecord, error) {
	key := CaseKey(cino)
	if key == "" {
		return nil, fmt.Errorf("invalid cino %q", cino)
	}

	var rec courtcase.CaseRecord
	if err := s.readObject(ctx, key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListCases lists all case records.
func (s *Store) ListCases(ctx context.Context) ([]*courtcase.CaseRecord, error) {
	keys, err := s.listKeys(ctx, "case-")
	if err != nil {
		return nil, err
	}

	var records []*courtcase.CaseRecord
	for _, key := range keys {
		var rec courtcase.CaseRecord
		if err := s.readObject(ctx, key, &rec); err != nil {
			s.logger.Warn("Failed to load case record", "key", key, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// DeleteCase removes a case record. Deletion is idempotent.
func (s *Store) DeleteCase(ctx context.Context, cino string) error {
	key := CaseKey(cino)
	if key == "" {
		return fmt.Errorf("invalid cino %q", cino)
	}
	if err := s.deleteObject(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Case record deleted", "key", key, "cino", cino)
	return nil
}

// SaveUser saves a user with its subscriptions.
func (s *Store) SaveUser(ctx context.Context, user *courtcase.User) error {
	key := UserKey(user.Token)
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Debug("Saving user", "key", key, "contact", user.Contact)

	if err := s.writeObject(ctx, key, user); err != nil {
		return err
	}
	s.logger.Info("User saved", "key", key, "contact", user.Contact, "subscription_count", len(user.Subscriptions))
	return nil
}

// LoadUserByContact loads a user by contact address. Uses HMAC to derive
// the token from the contact, allowing O(1) lookup.
func (s *Store) LoadUserByContact(ctx context.Context, contact string) (*courtcase.User, error) {
	return s.LoadUserByToken(ctx, s.TokenFromContact(contact))
}

// LoadUserByToken loads a user by its token. Validates token format
// before attempting the load to prevent timing attacks.
func (s *Store) LoadUserByToken(ctx context.Context, token string) (*courtcase.User, error) {
	key := UserKey(token)
	if key == "" {
		// Same error as "not found" to prevent token probing.
		return nil, errObjectNotFound
	}

	var user courtcase.User
	if err := s.readObject(ctx, key, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers lists all users.
func (s *Store) ListUsers(ctx context.Context) ([]*courtcase.User, error) {
	keys, err := s.listKeys(ctx, "user-")
	if err != nil {
		return nil, err
	}

	var users []*courtcase.User
	for _, key := range keys {
		var user courtcase.User
		if err := s.readObject(ctx, key, &user); err != nil {
			s.logger.Warn("Failed to load user", "key", key, "error", err)
			continue
		}
		users = append(users, &user)
	}
	return users, nil
}

// DeleteUser removes a user by contact address.
func (s *Store) DeleteUser(ctx context.Context, contact string) error {
	key := UserKey(s.TokenFromContact(contact))
	if key == "" {
		return errors.New("invalid token format")
	}
	if err := s.deleteObject(ctx, key); err != nil {
		return err
	}
	s.logger.Info("User deleted", "key", key, "contact", contact)
	return nil
}

// SubscriptionsFor returns the users holding an active subscription to a
// case. The subscription itself is reachable through the user's
// Subscriptions map; callers write bookkeeping back via SaveUser.
func (s *Store) SubscriptionsFor(ctx context.Context, cino string) ([]*courtcase.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var matched []*courtcase.User
	for _, user := range users {
		sub, ok := user.Subscriptions[cino]
		if !ok || !sub.Active {
			continue
		}
		matched = append(matched, user)
	}
	return matched, nil
}

// CandidateCases returns the case records due for a check: last checked
// longer than checkInterval ago, or holding at least one active
// subscription.
func (s *Store) CandidateCases(ctx context.Context, checkInterval time.Duration, now time.Time) ([]*courtcase.CaseRecord, error) {
	records, err := s.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	subscribed := map[string]bool{}
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		if !user.Active {
			continue
		}
		for cino, sub := range user.Subscriptions {
			if sub.Active {
				subscribed[cino] = true
			}
		}
	}

	var due []*courtcase.CaseRecord
	for _, rec := range records {
		stale := rec.LastCheckedAt.IsZero() || now.Sub(rec.LastCheckedAt) >= checkInterval
		if stale || subscribed[rec.Cino] {
			due = append(due, rec)
		}
	}
	return due, nil
}

// AppendOutcomes writes one run's notification outcomes as an audit blob.
func (s *Store) AppendOutcomes(ctx context.Context, runID string, outcomes []courtcase.NotificationOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	if runID == "" {
		return errors.New("empty run id")
	}
	key := fmt.Sprintf("outcomes-%s.json", runID)
	if err := s.writeObject(ctx, key, outcomes); err != nil {
		return err
	}
	s.logger.Info("Notification outcomes recorded", "key", key, "count", len(outcomes))
	return nil
}

// writeObject marshals v and writes it under key, with retries against
// Cloud Storage.
func (s *Store) writeObject(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// readObject reads and unmarshals the object under key.
func (s *Store) readObject(ctx context.Context, key string, v any) error {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return errObjectNotFound
			}
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return errObjectNotFound
			}
			return fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// deleteObject removes the object under key. Missing objects are not an
// error; deletion is idempotent.
func (s *Store) deleteObject(ctx context.Context, key string) error {
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(deleteErr)
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

// listKeys lists object names with the given prefix.
func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		var keys []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
				continue
			}
			keys = append(keys, name)
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
