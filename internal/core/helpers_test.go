package core

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore returns a Repository over an in-memory database, plus
// the raw handle for seeding rows the Repository has no writer for.
func newTestStore(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&Company{},
		&APIToken{},
		&Device{},
		&Group{},
		&LoopStyle{},
		&ContentItem{},
		&DeviceModule{},
		&TimeBlock{},
		&HealthReport{},
		&InstallProgress{},
		&MigrationRequest{},
		&SyncLog{},
		&DeviceLog{},
	))

	return NewRepository(db), db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeScreenshotStore keeps blobs in memory for sync tests.
type fakeScreenshotStore struct {
	files map[string][]byte
}

func newFakeScreenshotStore() *fakeScreenshotStore {
	return &fakeScreenshotStore{files: make(map[string][]byte)}
}

func (f *fakeScreenshotStore) Save(filename string, data []byte) (string, error) {
	f.files[filename] = data
	return "screenshots/" + filename, nil
}

func (f *fakeScreenshotStore) Remove(filename string) error {
	delete(f.files, filename)
	return nil
}
