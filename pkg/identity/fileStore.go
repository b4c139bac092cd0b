package identity

import (
	"encoding/base64"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type IdentityFile struct {
	Ids []IdentityFileEntry `yaml:"ids"`
}

type IdentityFileEntry struct {
	Username string `yaml:"username"`
	DeviceID uint32 `yaml:"deviceId"`
	Key      string `yaml:"key"`
}

// FileStore keeps local identities in a yaml file
type FileStore struct {
	path string
	ids  IdentityFile
	idx  map[string]*Local

	mu sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path}
	if err := f.read(); err != nil {
		return nil, err
	}

	return f, nil
}

func (fs *FileStore) read() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.path), 0700); err != nil {
		return errors.Wrap(err, "creating identity directory")
	}

	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errors.Wrap(err, "opening identity file for read")
	}
	defer f.Close()

	d, err := ioutil.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "reading identity file")
	}

	if err := yaml.Unmarshal(d, &fs.ids); err != nil {
		return errors.Wrap(err, "unmarshalling identity data")
	}

	return fs.buildIdx()
}

func (fs *FileStore) buildIdx() error {
	//assumes locked fs.mu

	fs.idx = make(map[string]*Local, len(fs.ids.Ids))

	for _, e := range fs.ids.Ids {
		raw, err := base64.StdEncoding.DecodeString(e.Key)
		if err != nil {
			return errors.Wrap(err, "decoding b64 identity key")
		}

		l, err := FromPrivateKey(e.Username, e.DeviceID, raw)
		if err != nil {
			return errors.Wrapf(err, "loading identity %s", e.Username)
		}

		fs.idx[l.Username] = l
	}

	return nil
}

// Add persists l. Usernames are unique within the file.
func (fs *FileStore) Add(l *Local) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.idx[l.Username]; ok {
		return errors.Errorf("identity %s already exists", l.Username)
	}

	fs.ids.Ids = append(fs.ids.Ids, IdentityFileEntry{
		Username: l.Username,
		DeviceID: l.DeviceID,
		Key:      base64.StdEncoding.EncodeToString(l.PrivateKey()),
	})
	fs.idx[l.Username] = l

	return fs.write()
}

func (fs *FileStore) write() error {
	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errors.Wrap(err, "opening identity file for write")
	}
	defer f.Close()

	d, err := yaml.Marshal(&fs.ids)
	if err != nil {
		return errors.Wrap(err, "marshalling identity data")
	}

	if err := f.Truncate(0); err != nil {
		return errors.Wrap(err, "truncating identity file")
	}
	_, err = f.Write(d)
	return err
}

func (fs *FileStore) Find(username string) (*Local, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l, ok := fs.idx[username]
	if !ok {
		return nil, errors.New("not found")
	}

	return l, nil
}

func (fs *FileStore) List() []*Local {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ids := make([]*Local, 0, len(fs.idx))
	for _, l := range fs.idx {
		ids = append(ids, l)
	}

	return ids
}
