package crypto

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec"

	"github.com/996BC/996.DHT/utils"
)

/*
The pkey is the plain node private key stored on the disk.
The node id is derived from it, see NodeIDFromPubKey.
*/

const (
	PlainKeyType = 1
	PlainKey     = ".pKey"
)

// LoadKey restores the node key of keyType from the directory path
func LoadKey(keyType int, path string) (*btcec.PrivateKey, error) {
	switch keyType {
	case PlainKeyType:
		return RestorePKey(path)
	case SealKeyType:
		return RestoreSKey(path)
	default:
		return nil, fmt.Errorf("invalid key type:%d", keyType)
	}
}

// NewPKey generates a node key, then saves it unencrypted
func NewPKey(path string) (*btcec.PrivateKey, error) {
	keyFile := filepath.Join(path, PlainKey)
	if err := checkBeforeNewKey(path, keyFile); err != nil {
		return nil, err
	}

	privKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}

	if err = savePKey(privKey, keyFile); err != nil {
		return nil, err
	}
	return privKey, nil
}

// OpenSKey decrypts a sealed key and saves it as a pkey
func OpenSKey(skeyPath string, outputPath string) error {
	keyFile := filepath.Join(outputPath, PlainKey)
	if err := checkBeforeNewKey(outputPath, keyFile); err != nil {
		return err
	}

	privKey, err := RestoreSKey(skeyPath)
	if err != nil {
		return err
	}
	return savePKey(privKey, keyFile)
}

// RestorePKey restores the node key from the pkey file under path
func RestorePKey(path string) (*btcec.PrivateKey, error) {
	hexPrivKey, err := readKeyFile(filepath.Join(path, PlainKey))
	if err != nil {
		return nil, err
	}

	bytePrivKey, err := utils.FromHex(string(hexPrivKey))
	if err != nil {
		return nil, err
	}

	privKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), bytePrivKey)
	if privKey == nil {
		return nil, errors.New("parse bytes to private key failed")
	}
	return privKey, nil
}

func savePKey(privKey *btcec.PrivateKey, keyFile string) error {
	return saveOnDisk([]byte(utils.ToHex(privKey.Serialize())), keyFile)
}

func checkBeforeNewKey(path string, file string) error {
	if err := utils.AccessCheck(path); err != nil {
		return err
	}

	if err := utils.AccessCheck(file); err == nil {
		return fmt.Errorf("File %s already exists."+
			"You should remove it before creating a new one in the same directory",
			file)
	}
	return nil
}

func readKeyFile(file string) ([]byte, error) {
	if err := utils.AccessCheck(file); err != nil {
		return nil, err
	}

	content, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(content))), nil
}

func saveOnDisk(content []byte, file string) error {
	return ioutil.WriteFile(file, content, 0600)
}
