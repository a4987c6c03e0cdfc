package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec"
	"github.com/howeyc/gopass"
	"golang.org/x/crypto/scrypt"

	"github.com/996BC/996.DHT/utils"
)

/*
The skey is the sealed node key stored on the disk.
The aes-256-gcm key encrypting the private key is derived from a passphrase by scrypt.
*/

const (
	SealKeyType = 2
	SealKey     = ".sKey"

	version1   = 1
	kdfName    = "scrypt"
	dkLen      = 32
	scryptN    = 262144
	scryptP    = 1
	scryptR    = 8
	saltLen    = 32
	nonceLen   = 12
	cryptoName = "aes-256-gcm"
)

var ErrInconsistentPassphrase = errors.New("Inconsistent input")

type skeyJSON struct {
	Version    int             `json:"version"`
	KdfName    string          `json:"kdfName"`
	KDF        scryptKDF       `json:"kdf"`
	CryptoName string          `json:"cryptoName"`
	Crypto     aes256GcmCrypto `json:"crypto"`
}

type scryptKDF struct {
	DkLen int    `json:"dkLen"`
	N     int    `json:"n"`
	P     int    `json:"p"`
	R     int    `json:"r"`
	Salt  string `json:"salt"`
}

type aes256GcmCrypto struct {
	CipherText string `json:"cipherText"`
	Nonce      string `json:"nonce"`
}

// NewSKey generates a node key, then seals it with a passphrase read from the terminal
func NewSKey(path string) (*btcec.PrivateKey, error) {
	keyFile := filepath.Join(path, SealKey)
	if err := checkBeforeNewKey(path, keyFile); err != nil {
		return nil, err
	}

	privKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}

	if err = sealAndSave(privKey, keyFile); err != nil {
		return nil, err
	}
	return privKey, nil
}

// SealPKey seals the pkey under pkeyPath and saves it under outputPath
func SealPKey(pkeyPath string, outputPath string) error {
	keyFile := filepath.Join(outputPath, SealKey)
	if err := checkBeforeNewKey(outputPath, keyFile); err != nil {
		return err
	}

	privKey, err := RestorePKey(pkeyPath)
	if err != nil {
		return err
	}
	return sealAndSave(privKey, keyFile)
}

// ReNewSKey reseals an existing skey with a new passphrase
func ReNewSKey(oldKeyPath string, newKeyPath string) error {
	if err := utils.AccessCheck(newKeyPath); err != nil {
		return err
	}

	privKey, err := RestoreSKey(oldKeyPath)
	if err != nil {
		return err
	}
	return sealAndSave(privKey, filepath.Join(newKeyPath, SealKey))
}

// RestoreSKey asks for the passphrase and opens the skey under path
func RestoreSKey(path string) (*btcec.PrivateKey, error) {
	content, err := readKeyFile(filepath.Join(path, SealKey))
	if err != nil {
		return nil, err
	}

	fmt.Printf("Input your passphrase to decrypt your key:")
	pass, err := gopass.GetPasswdMasked()
	if err != nil {
		return nil, fmt.Errorf("Get passphrase failed:%v", err)
	}

	return Unseal(pass, content)
}

func sealAndSave(privKey *btcec.PrivateKey, keyFile string) error {
	pass, err := getPassphrase()
	if err != nil {
		return err
	}

	sealed, err := Seal(pass, privKey)
	if err != nil {
		return err
	}
	return saveOnDisk(sealed, keyFile)
}

func getPassphrase() ([]byte, error) {
	fmt.Printf("Input your passphrase(Please Remember it):")
	pass1, err := gopass.GetPasswdMasked()
	if err != nil {
		return nil, fmt.Errorf("Get passphrase failed:%v", err)
	} else if len(pass1) < 8 {
		return nil, fmt.Errorf("Password should be at least 8 characters")
	}
	fmt.Printf("Repeat it:")
	pass2, err := gopass.GetPasswdMasked()
	if err != nil {
		return nil, fmt.Errorf("Get passphrase failed:%v", err)
	}
	if !bytes.Equal(pass1, pass2) {
		return nil, ErrInconsistentPassphrase
	}
	return pass1, nil
}

// Seal encrypts the private key with passphrase and returns the skey file content
func Seal(passphrase []byte, privKey *btcec.PrivateKey) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	dk, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, dkLen)
	if err != nil {
		return nil, err
	}

	aesgcm, err := newGCM(dk)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	cipherText := aesgcm.Seal(nil, nonce, privKey.Serialize(), nil)

	ks := skeyJSON{
		Version: version1,
		KdfName: kdfName,
		KDF: scryptKDF{
			DkLen: dkLen,
			N:     scryptN,
			P:     scryptP,
			R:     scryptR,
			Salt:  utils.ToHex(salt),
		},
		CryptoName: cryptoName,
		Crypto: aes256GcmCrypto{
			CipherText: utils.ToHex(cipherText),
			Nonce:      utils.ToHex(nonce),
		},
	}
	return json.MarshalIndent(ks, "", "  ")
}

// Unseal is the inverse of Seal
func Unseal(passphrase []byte, content []byte) (*btcec.PrivateKey, error) {
	ks := &skeyJSON{}
	if err := json.Unmarshal(content, ks); err != nil {
		return nil, err
	}
	if err := checkSealParams(ks); err != nil {
		return nil, err
	}

	salt, err := utils.FromHex(ks.KDF.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := utils.FromHex(ks.Crypto.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := utils.FromHex(ks.Crypto.CipherText)
	if err != nil {
		return nil, err
	}

	dk, err := scrypt.Key(passphrase, salt, ks.KDF.N, ks.KDF.R, ks.KDF.P, ks.KDF.DkLen)
	if err != nil {
		return nil, err
	}
	aesgcm, err := newGCM(dk)
	if err != nil {
		return nil, err
	}
	plainText, err := aesgcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, err
	}

	privKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), plainText)
	if privKey == nil {
		return nil, fmt.Errorf("recover nil private key")
	}
	return privKey, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func checkSealParams(ks *skeyJSON) error {
	if ks.Version != version1 {
		return fmt.Errorf("unrecognized version:%d", ks.Version)
	}
	if ks.KdfName != kdfName {
		return fmt.Errorf("unrecognized kdf:%s", ks.KdfName)
	}
	if ks.CryptoName != cryptoName {
		return fmt.Errorf("unrecognized crypto:%s", ks.CryptoName)
	}
	if ks.KDF.DkLen != dkLen || ks.KDF.N != scryptN || ks.KDF.P != scryptP || ks.KDF.R != scryptR {
		return fmt.Errorf("unrecognized kdf params:%+v", ks.KDF)
	}
	if len(ks.KDF.Salt) == 0 || len(ks.Crypto.CipherText) == 0 ||
		len(ks.Crypto.Nonce) == 0 {
		return fmt.Errorf("the essential content is missed")
	}
	return nil
}
