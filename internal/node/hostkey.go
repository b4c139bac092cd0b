package node

import (
	"crypto/rand"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// hostKey loads the libp2p host key, creating one on first start
func hostKey(path string, l *logrus.Entry) (libp2p.Option, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := generateHostKey(path, l); err != nil {
			return nil, errors.Wrap(err, "creating new host key")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "checking host key file")
	} else {
		l.Debug("using existing Ed25519 host key")
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading host key file")
	}

	priv, err := crypto.UnmarshalPrivateKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling private key")
	}

	return libp2p.Identity(priv), nil
}

func generateHostKey(path string, l *logrus.Entry) error {
	l.Debug("creating a new Ed25519 host key")
	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 0, rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generating priv key")
	}

	b, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return errors.Wrap(err, "marshaling new private key")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "creating host key directory")
	}

	return ioutil.WriteFile(path, b, 0600)
}
