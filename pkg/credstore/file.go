package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
)

const credFileExt = ".cred"

// FileConfig configures a FileStore
type FileConfig struct {
	Directory            string
	EncryptionKey        string // empty disables encryption
	FilePermissions      string // octal, default "0600"
	DirectoryPermissions string // octal, default "0700"
	Clock                func() time.Time
}

// FileStore keeps one optionally encrypted file per credential
type FileStore struct {
	mu  sync.RWMutex
	cfg FileConfig
	gcm cipher.AEAD
}

// NewFileStore creates the directory if needed and prepares the cipher
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Directory == "" {
		return nil, errcode.New(errcode.CredentialInvalidInput, "file tier: directory must not be empty")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if err := os.MkdirAll(cfg.Directory, parsePermissions(cfg.DirectoryPermissions, 0o700)); err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "creating credential directory %s", cfg.Directory)
	}

	fs := &FileStore{cfg: cfg}
	if cfg.EncryptionKey != "" {
		gcm, err := newGCM(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		fs.gcm = gcm
	}
	return fs, nil
}

func newGCM(key string) (cipher.AEAD, error) {
	derived := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "creating cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "creating GCM")
	}
	return gcm, nil
}

func (f *FileStore) Name() string { return "file" }

// Encrypted reports whether credentials are sealed on disk
func (f *FileStore) Encrypted() bool { return f.gcm != nil }

func (f *FileStore) Put(ctx context.Context, key string, cred Credential) error {
	if err := validateKey(key, "put"); err != nil {
		return err
	}
	if cred.StoredAt.IsZero() {
		cred.StoredAt = f.cfg.Clock()
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "encoding credential %s", key)
	}
	if f.gcm != nil {
		if data, err = f.encrypt(data); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.WriteFile(f.path(key), data, parsePermissions(f.cfg.FilePermissions, 0o600)); err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "writing credential %s", key)
	}
	return nil
}

// Get reads the credential for key. An expired credential is removed and reported as not found.
func (f *FileStore) Get(ctx context.Context, key string) (*Credential, error) {
	if err := validateKey(key, "get"); err != nil {
		return nil, err
	}

	f.mu.RLock()
	//nolint:gosec //G304: filename is sanitized and inside the configured directory
	raw, err := os.ReadFile(f.path(key))
	f.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errcode.Errorf(errcode.CredentialNotFound, "credential %s not found", key)
		}
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "reading credential %s", key)
	}

	if f.gcm != nil {
		if raw, err = f.decrypt(raw); err != nil {
			return nil, err
		}
	}

	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialDecodeFailure, "decoding credential %s", key)
	}

	if cred.Expired(f.cfg.Clock()) {
		_ = f.Delete(ctx, key)
		return nil, errcode.Errorf(errcode.CredentialNotFound, "credential %s expired", key)
	}
	return &cred, nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key, "delete"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "deleting credential %s", key)
	}
	return nil
}

// Keys lists stored credentials by their on-disk (sanitized) names
func (f *FileStore) Keys(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.keysLocked()
}

func (f *FileStore) keysLocked() ([]string, error) {
	files, err := os.ReadDir(f.cfg.Directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "listing %s", f.cfg.Directory)
	}

	keys := []string{}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == credFileExt {
			keys = append(keys, strings.TrimSuffix(file.Name(), credFileExt))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Wipe removes every credential file. Files that cannot be removed are reported together.
func (f *FileStore) Wipe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys, err := f.keysLocked()
	if err != nil {
		return errcode.Wrapf(err, errcode.CredentialWipeFailure, "wiping file tier")
	}

	var errs []error
	for _, key := range keys {
		if err := os.Remove(filepath.Join(f.cfg.Directory, key+credFileExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errcode.Wrapf(errors.Join(errs...), errcode.CredentialWipeFailure, "wiping file tier")
	}
	return nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.cfg.Directory, sanitizeFilename(key)+credFileExt)
}

func (f *FileStore) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "generating nonce")
	}
	return f.gcm.Seal(nonce, nonce, data, nil), nil
}

func (f *FileStore) decrypt(sealed []byte) ([]byte, error) {
	nonceSize := f.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errcode.New(errcode.CredentialDecodeFailure, "encrypted credential too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	data, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialDecodeFailure, "decrypting credential")
	}
	return data, nil
}

func sanitizeFilename(key string) string {
	invalid := []string{"/", "\\", ":", "*", "?", `"`, "<", ">", "|", ".."}
	result := key
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}

func parsePermissions(perm string, fallback os.FileMode) os.FileMode {
	if perm == "" {
		return fallback
	}
	mode, err := strconv.ParseUint(perm, 8, 32)
	if err != nil {
		return fallback
	}
	return os.FileMode(mode)
}
