// Package custodian provisions and guards chain keys for users who sign up
// without a blockchain account of their own.
package custodian

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	domain "github.com/sportsblock/sportsblock/internal/app/domain/custodian"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

var sealSalt = []byte("sportsblock-custodian")

// AccountPrefix namespaces generated account names so they never collide
// with real Hive accounts.
const AccountPrefix = "sb-"

// Service creates custodial accounts and produces signers for them. Private
// keys are sealed with AES-256-GCM under a key derived from the master key
// and only unsealed inside SignerFor.
type Service struct {
	store storage.CustodianStore
	log   *logger.Logger

	mu      sync.RWMutex // guards sealKey against rotation
	sealKey []byte
}

// New constructs the custodian. masterKey must be non-empty and stable
// across restarts or existing accounts become unreadable.
func New(store storage.CustodianStore, masterKey []byte, log *logger.Logger) (*Service, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("custodian: master key is required")
	}
	if log == nil {
		log = logger.NewDefault("custodian")
	}

	sealKey, err := deriveSealKey(masterKey)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, sealKey: sealKey, log: log}, nil
}

func deriveSealKey(masterKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, sealSalt, []byte("seal-v1"))
	sealKey := make([]byte, 32)
	if _, err := io.ReadFull(reader, sealKey); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	return sealKey, nil
}

// RotateMasterKey re-seals every stored key under the new master key. The
// service only switches to the new seal key once every account re-sealed, so
// a mid-rotation failure leaves all records readable with the old key.
func (s *Service) RotateMasterKey(ctx context.Context, newMasterKey []byte) error {
	if len(newMasterKey) == 0 {
		return errors.New("custodian: new master key is required")
	}
	newSealKey, err := deriveSealKey(newMasterKey)
	if err != nil {
		return err
	}

	accounts, err := s.store.ListCustodialAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list custodial accounts: %w", err)
	}

	oldSealKey := s.currentSealKey()
	for _, acct := range accounts {
		posting, err := unsealWith(oldSealKey, acct.EncryptedPostingKey)
		if err != nil {
			return fmt.Errorf("unseal posting key for %s: %w", acct.HiveAccount, err)
		}
		active, err := unsealWith(oldSealKey, acct.EncryptedActiveKey)
		if err != nil {
			return fmt.Errorf("unseal active key for %s: %w", acct.HiveAccount, err)
		}

		if acct.EncryptedPostingKey, err = sealWith(newSealKey, posting); err != nil {
			return fmt.Errorf("reseal posting key for %s: %w", acct.HiveAccount, err)
		}
		if acct.EncryptedActiveKey, err = sealWith(newSealKey, active); err != nil {
			return fmt.Errorf("reseal active key for %s: %w", acct.HiveAccount, err)
		}
		if _, err := s.store.UpdateCustodialAccount(ctx, acct); err != nil {
			return fmt.Errorf("store resealed keys for %s: %w", acct.HiveAccount, err)
		}
	}

	s.mu.Lock()
	s.sealKey = newSealKey
	s.mu.Unlock()
	s.log.WithField("accounts", len(accounts)).Info("master key rotated")
	return nil
}

func (s *Service) currentSealKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealKey
}

// CreateAccount generates a fresh keypair for the user, seals it and records
// the custodial account. Returns the generated account name.
func (s *Service) CreateAccount(ctx context.Context, userID, username string) (string, error) {
	if userID == "" || username == "" {
		return "", fmt.Errorf("user id and username are required")
	}
	hiveAccount := AccountPrefix + strings.ToLower(username)

	postingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate posting key: %w", err)
	}
	activeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate active key: %w", err)
	}

	sealedPosting, err := s.seal(postingKey)
	if err != nil {
		return "", err
	}
	sealedActive, err := s.seal(activeKey)
	if err != nil {
		return "", err
	}

	acct := domain.Account{
		UserID:              userID,
		HiveAccount:         hiveAccount,
		PublicKey:           encodePublicKey(&postingKey.PublicKey),
		EncryptedPostingKey: sealedPosting,
		EncryptedActiveKey:  sealedActive,
	}
	if _, err := s.store.CreateCustodialAccount(ctx, acct); err != nil {
		return "", err
	}

	s.log.WithField("user_id", userID).
		WithField("hive_account", hiveAccount).
		Info("custodial account created")
	return hiveAccount, nil
}

// Get returns the custodial record for a chain account.
func (s *Service) Get(ctx context.Context, hiveAccount string) (domain.Account, error) {
	return s.store.GetCustodialAccountByHive(ctx, strings.ToLower(hiveAccount))
}

// KeyRole selects which sealed key a signer uses.
type KeyRole string

const (
	RolePosting KeyRole = "posting"
	RoleActive  KeyRole = "active"
)

// SignerFor unseals the requested key and returns a transaction signer.
func (s *Service) SignerFor(ctx context.Context, hiveAccount string, role KeyRole) (chain.Signer, error) {
	acct, err := s.store.GetCustodialAccountByHive(ctx, strings.ToLower(hiveAccount))
	if err != nil {
		return nil, err
	}

	sealed := acct.EncryptedPostingKey
	if role == RoleActive {
		sealed = acct.EncryptedActiveKey
	}
	key, err := s.unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal %s key for %s: %w", role, hiveAccount, err)
	}
	return &keySigner{key: key}, nil
}

func (s *Service) seal(key *ecdsa.PrivateKey) ([]byte, error) {
	return sealWith(s.currentSealKey(), key)
}

func (s *Service) unseal(sealed []byte) (*ecdsa.PrivateKey, error) {
	return unsealWith(s.currentSealKey(), sealed)
}

func sealWith(sealKey []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	raw, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}
	block, err := aes.NewCipher(sealKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, raw, nil), nil
}

func unsealWith(sealKey, sealed []byte) (*ecdsa.PrivateKey, error) {
	block, err := aes.NewCipher(sealKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed key too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	raw, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	return x509.ParseECPrivateKey(raw)
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

// Sign produces a fixed-width r||s signature over the digest, hex encoded.
func (k *keySigner) Sign(digest []byte) (string, error) {
	if len(digest) == 0 {
		return "", errors.New("empty digest")
	}
	r, sv, err := ecdsa.Sign(rand.Reader, k.key, digest)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return hex.EncodeToString(sig), nil
}

func (k *keySigner) PublicKey() string {
	return encodePublicKey(&k.key.PublicKey)
}

func encodePublicKey(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y))
}
