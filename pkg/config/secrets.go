package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file layout: [salt][nonce][ciphertext+tag].
const (
	SecretsDir      = ".agentkit"
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	gcmTagSize      = 16
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

//nolint:gochecknoglobals // in-memory secrets shared by every client factory
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SetDecryptedSecrets stores decrypted secrets in memory.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = maps.Clone(secrets)
}

// GetSecret returns a secret value by name using standard precedence:
// 1. Decrypted secrets file (in memory)
// 2. Environment variables.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	value := decryptedSecrets[name]
	decryptedSecretsMux.RUnlock()
	if value != "" {
		return value, nil
	}

	if value := os.Getenv(name); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SecretNames returns the sorted names (not values) of the in-memory secrets.
func SecretNames() []string {
	decryptedSecretsMux.RLock()
	defer decryptedSecretsMux.RUnlock()
	return slices.Sorted(maps.Keys(decryptedSecrets))
}

// SetSecret sets a secret value in memory.
func SetSecret(name, value string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()

	if decryptedSecrets == nil {
		decryptedSecrets = make(map[string]string)
	}
	decryptedSecrets[name] = value
}

// DeleteSecret removes a secret from memory.
func DeleteSecret(name string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	delete(decryptedSecrets, name)
}

// SecretsFilePath returns the location of the encrypted secrets file under dir.
func SecretsFilePath(dir string) string {
	return filepath.Join(dir, SecretsDir, secretsFileName)
}

// SecretsFileExists checks if the encrypted secrets file exists under dir.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(SecretsFilePath(dir))
	return err == nil
}

// LoadSecrets decrypts the secrets file under dir and makes its values
// available to GetSecret and GetAPIKey.
func LoadSecrets(dir, password string) error {
	secrets, err := DecryptSecretsFile(dir, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	logger.Info("loaded %d secrets from %s", len(secrets), SecretsFilePath(dir))
	return nil
}

// SaveSecretsToFile saves the current in-memory secrets to the encrypted file.
func SaveSecretsToFile(dir, password string) error {
	decryptedSecretsMux.RLock()
	secretsCopy := maps.Clone(decryptedSecrets)
	decryptedSecretsMux.RUnlock()

	if secretsCopy == nil {
		secretsCopy = map[string]string{}
	}
	return EncryptSecretsFile(dir, password, secretsCopy)
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	passwordBytes := []byte(password)
	defer clear(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecretsFile encrypts and saves secrets under dir with 0600 permissions.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	defer clear(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Join(dir, SecretsDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", SecretsDir, err)
	}
	if err := os.WriteFile(SecretsFilePath(dir), fileData, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile decrypts and returns the secrets stored under dir.
// Loose file permissions are tightened to 0600.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := SecretsFilePath(dir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		logger.Warn("secrets file has permissions %04o, resetting to 0600", info.Mode().Perm())
		if chmodErr := os.Chmod(path, 0600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+gcmTagSize {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}
	defer clear(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}
