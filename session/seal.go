package session

import (
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/storage"
)

const (
	sealKeySalt = "payrollportal:session"
	sealKeyInfo = "payrollportal:session_seal_key:v1"
	sealAADBase = "payroll:session:"
)

// DeriveSealKey stretches a configured secret into a 32-byte AES-256 key.
func DeriveSealKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	return util.HKDF([]byte(secret), []byte(sealKeySalt), []byte(sealKeyInfo))
}

func sealAAD(namespace, key string) []byte {
	return []byte(sealAADBase + namespace + ":" + key)
}

func seal(enclave *memguard.Enclave, namespace, key, value string) (string, error) {
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), []byte(value), sealAAD(namespace, key))
	if err != nil {
		return "", err
	}
	return storage.EncodeEnvelope(env)
}

func unseal(enclave *memguard.Enclave, namespace, key, value string) (string, error) {
	env, err := storage.DecodeEnvelope(value)
	if err != nil {
		return "", err
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	plaintext, err := storage.OpenRecord(buf.Bytes(), env, sealAAD(namespace, key))
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(plaintext)
	return string(plaintext), nil
}
