package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
)

// keysIndexSuffix names the entry holding the JSON list of stored keys,
// since go-keyring cannot enumerate a service.
const keysIndexSuffix = "::keys-index"

// KeyringStore keeps credentials in the OS keyring under one service name
type KeyringStore struct {
	mu      sync.Mutex
	service string
	logger  *slog.Logger
}

// NewKeyringStore returns a keyring tier for service
func NewKeyringStore(service string, logger *slog.Logger) (*KeyringStore, error) {
	if service == "" {
		return nil, errcode.New(errcode.CredentialInvalidInput, "keyring tier: service must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyringStore{service: service, logger: logger.With("component", "keyring_tier")}, nil
}

func (k *KeyringStore) Name() string { return "keyring" }

func (k *KeyringStore) Put(ctx context.Context, key string, cred Credential) error {
	if err := validateKey(key, "put"); err != nil {
		return err
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "encoding credential %s", key)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(k.service, key, string(data)); err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "storing credential %s/%s", k.service, key)
	}
	return k.addToIndex(key)
}

func (k *KeyringStore) Get(ctx context.Context, key string) (*Credential, error) {
	if err := validateKey(key, "get"); err != nil {
		return nil, err
	}

	raw, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, errcode.Errorf(errcode.CredentialNotFound, "credential %s/%s not found", k.service, key)
		}
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "retrieving credential %s/%s", k.service, key)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialDecodeFailure, "decoding credential %s/%s", k.service, key)
	}
	return &cred, nil
}

// Delete removes key. A missing key is not an error.
func (k *KeyringStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key, "delete"); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.deleteLocked(key); err != nil {
		return err
	}
	return k.removeFromIndex(key)
}

func (k *KeyringStore) deleteLocked(key string) error {
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "deleting credential %s/%s", k.service, key)
	}
	return nil
}

func (k *KeyringStore) Keys(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadIndex()
}

// Wipe deletes every indexed key and then the index itself
func (k *KeyringStore) Wipe(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.loadIndex()
	if err != nil {
		return errcode.Wrapf(err, errcode.CredentialWipeFailure, "wiping keyring tier")
	}

	var errs []error
	var remaining []string
	for _, key := range keys {
		if err := k.deleteLocked(key); err != nil {
			errs = append(errs, err)
			remaining = append(remaining, key)
		}
	}
	if err := k.saveIndex(remaining); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errcode.Wrapf(errors.Join(errs...), errcode.CredentialWipeFailure, "wiping keyring tier")
	}
	return nil
}

func (k *KeyringStore) loadIndex() ([]string, error) {
	raw, err := keyring.Get(k.service, k.service+keysIndexSuffix)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errcode.Wrapf(err, errcode.CredentialStoreFailure, "loading key index for %s", k.service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, errcode.Wrapf(err, errcode.CredentialDecodeFailure, "decoding key index for %s", k.service)
	}
	return keys, nil
}

func (k *KeyringStore) saveIndex(keys []string) error {
	indexKey := k.service + keysIndexSuffix

	if len(keys) == 0 {
		if err := keyring.Delete(k.service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			k.logger.Debug("failed to clean up empty key index", "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "encoding key index for %s", k.service)
	}
	if err := keyring.Set(k.service, indexKey, string(data)); err != nil {
		return errcode.Wrapf(err, errcode.CredentialStoreFailure, "saving key index for %s", k.service)
	}
	return nil
}

func (k *KeyringStore) addToIndex(key string) error {
	keys, err := k.loadIndex()
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return k.saveIndex(append(keys, key))
}

func (k *KeyringStore) removeFromIndex(key string) error {
	keys, err := k.loadIndex()
	if err != nil {
		return err
	}
	return k.saveIndex(slices.DeleteFunc(keys, func(s string) bool { return s == key }))
}
