package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MigrationLogger adapts zap to migrate.Logger.
type MigrationLogger struct {
	logger *zap.SugaredLogger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.logger.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationService struct {
	config *MigrationConfig
	logger *zap.Logger
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	AutoRollback        bool // If enabled, will attempt to rollback the database to the previous version if an error occurs
}

func NewMigrationService(logger *zap.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger.Named("migrations"),
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	migrationFolder := ms.config.MigrationFolderPath
	if filepath.IsAbs(migrationFolder) {
		return migrationFolder
	}
	if _, err := os.Stat(migrationFolder); err == nil {
		abs, absErr := filepath.Abs(migrationFolder)
		if absErr == nil {
			return abs
		}
		return migrationFolder
	}
	workingDirectory, _ := os.Getwd()
	return filepath.Join(workingDirectory, migrationFolder)
}

// MigratePostgres runs the migrations against an open postgres pool.
func (ms *MigrationService) MigratePostgres(databaseName string, db *sqlx.DB) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "create postgres migration driver")
	}

	migrationFolder := ms.resolveMigrationFolder()
	if _, err := os.Stat(migrationFolder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", migrationFolder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationFolder, databaseName, driver)
	if err != nil {
		ms.logger.Error("Failed to create migrate instance", zap.Error(err))
		return err
	}
	m.Log = MigrationLogger{logger: ms.logger.Sugar()}

	return ms.runMigration(m)
}

func (ms *MigrationService) runMigration(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.Error("Failed to force database version", zap.Int("version", ms.config.Force), zap.Error(err))
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.Error("Failed to get current migration version", zap.Error(versionErr))
	}

	startTime := time.Now()

	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}

	ms.logger.Info("Database migrations completed", zap.Duration("elapsed", time.Since(startTime)))

	return ms.handleMigrationError(m, migrationErr, version)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}

	if errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	// usually a rollback to a binary that does not know the newest migration
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := getLatestVersion(ms.resolveMigrationFolder())
		if latestErr != nil {
			ms.logger.Error("Failed to get latest migration version", zap.Error(latestErr))
			return latestErr
		}
		ms.logger.Warn("No migration found for current version, forcing latest known",
			zap.Uint("previous_version", previousVersion), zap.Int("latest", latest))
		if err := m.Force(latest); err != nil {
			ms.logger.Error("Failed to force database version", zap.Int("version", latest), zap.Error(err))
			return err
		}
		return nil
	}

	ms.logger.Error("Migration failed", zap.Error(err))

	version, dirty, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.Error("Failed to get current migration version", zap.Error(versionErr))
		return err
	}

	if ms.config.AutoRollback && dirty {
		if previousVersion == 0 && version > 0 {
			previousVersion = version - 1
		}
		ms.logger.Warn("Database is dirty, reverting",
			zap.Uint("version", version), zap.Uint("revert_to", previousVersion))
		if forceErr := m.Force(int(previousVersion)); forceErr != nil {
			ms.logger.Error("Failed to force database version", zap.Uint("version", previousVersion), zap.Error(forceErr))
			return forceErr
		}
	}

	// still fail so the application does not start on a half-migrated schema
	return errors.Wrapf(err, "apply migrations (dirty=%t, version=%d)", dirty, version)
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func getLatestVersion(folderPath string) (int, error) {
	files, err := os.ReadDir(folderPath)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(file.Name())
		if len(matches) > 1 {
			version, err := strconv.Atoi(matches[1])
			if err != nil {
				return 0, err
			}
			versions = append(versions, version)
		}
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folderPath)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
