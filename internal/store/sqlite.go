package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/signalcrypto"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// kvRow is the durable backing table for every namespace Get/Set
// addresses (lid-mapping, sender-key-memory, device-list). Values are
// stored as JSON so the same table serves every namespace's differently
// shaped payloads, mirroring the teacher's dual sqlite/postgres
// dialector setup in core/database/connection.go.
type kvRow struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte
	UpdatedAt time.Time
}

func (kvRow) TableName() string { return "relay_kv" }

// SQL is a gorm-backed keystore.Keystore, covering the same contract
// as Memory. The namespace data survives process restarts; the Signal
// sessions and keys in its signalcrypto.Repository are in memory only.
type SQL struct {
	db   *gorm.DB
	repo *signalcrypto.Repository
}

// Driver selects which gorm dialector NewSQL opens.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Options configures NewSQL, mirroring the teacher's DatabaseConfig fields.
type Options struct {
	Driver Driver
	DSN    string
}

// NewSQL opens (and migrates) the durable keystore for a device whose
// own wire JID is selfID.
func NewSQL(opts Options, selfID wireid.JID) (*SQL, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, fmt.Errorf("store: failed to migrate schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get underlying sql.DB: %w", err)
	}
	if opts.Driver == DriverSQLite || opts.Driver == "" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(100)
	}

	return &SQL{db: db, repo: signalcrypto.NewRepository(selfID)}, nil
}

// Transaction wraps fn in a gorm transaction, so every Get/Set call
// against the tx argument commits or rolls back atomically (spec §4.7 step 2).
func (s *SQL) Transaction(ctx context.Context, scope string, fn keystore.TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		scoped := &SQL{db: gtx, repo: s.repo}
		return fn(ctx, scoped)
	})
}

func (s *SQL) Get(ctx context.Context, ns keystore.Namespace, keys []string) (map[string]any, error) {
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	var rows []kvRow
	if err := s.db.WithContext(ctx).Where("namespace = ? AND key IN ?", string(ns), keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: get failed for namespace %s: %w", ns, err)
	}
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		var v any
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("store: failed to decode value for %s/%s: %w", ns, r.Key, err)
		}
		out[r.Key] = v
	}
	return out, nil
}

func (s *SQL) Set(ctx context.Context, data map[keystore.Namespace]map[string]any) error {
	for ns, kv := range data {
		for k, v := range kv {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("store: failed to encode value for %s/%s: %w", ns, k, err)
			}
			row := kvRow{Namespace: string(ns), Key: k, Value: raw, UpdatedAt: time.Now().UTC()}
			err = s.db.WithContext(ctx).Save(&row).Error
			if err != nil {
				return fmt.Errorf("store: set failed for %s/%s: %w", ns, k, err)
			}
		}
	}
	return nil
}

func (s *SQL) ValidateSession(ctx context.Context, jid wireid.JID) (keystore.SessionValidation, error) {
	return s.repo.ValidateSession(ctx, jid)
}

func (s *SQL) EncryptMessage(ctx context.Context, jid wireid.JID, plaintext []byte) (keystore.EncryptResult, error) {
	return s.repo.EncryptMessage(ctx, jid, plaintext)
}

func (s *SQL) EncryptGroupMessage(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (keystore.GroupEncryptResult, error) {
	return s.repo.EncryptGroupMessage(ctx, group, plaintext, meID)
}

func (s *SQL) DecryptMessage(ctx context.Context, jid wireid.JID, encType keystore.EncType, ciphertext []byte) ([]byte, error) {
	return nil, fmt.Errorf("store: DecryptMessage is not implemented by the outbound relay core")
}

func (s *SQL) InstallSession(ctx context.Context, jid wireid.JID, bundle keystore.PreKeyBundle) error {
	return s.repo.InstallSession(ctx, jid, bundle)
}

func (s *SQL) LIDMapping() keystore.LIDMappingStore {
	return (*sqlLIDMapping)(s)
}

type sqlLIDMapping SQL

func (l *sqlLIDMapping) StoreLIDPNMappings(ctx context.Context, pairs [][2]wireid.JID) error {
	s := (*SQL)(l)
	data := map[keystore.Namespace]map[string]any{keystore.NamespaceLIDMapping: {}}
	for _, pair := range pairs {
		pn, lid := pair[0], pair[1]
		data[keystore.NamespaceLIDMapping][pn.String()] = lid.String()
		data[keystore.NamespaceLIDMapping][lid.String()+"_reverse"] = pn.String()
	}
	return s.Set(ctx, data)
}

func (l *sqlLIDMapping) GetLIDForPN(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error) {
	s := (*SQL)(l)
	row, err := s.Get(ctx, keystore.NamespaceLIDMapping, []string{pn.String()})
	if err != nil {
		return wireid.JID{}, false, err
	}
	v, ok := row[pn.String()]
	if !ok {
		return wireid.JID{}, false, nil
	}
	jid, err := wireid.Parse(v.(string))
	return jid, err == nil, err
}

func (l *sqlLIDMapping) GetPNForLID(ctx context.Context, lid wireid.JID) (wireid.JID, bool, error) {
	s := (*SQL)(l)
	key := lid.String() + "_reverse"
	row, err := s.Get(ctx, keystore.NamespaceLIDMapping, []string{key})
	if err != nil {
		return wireid.JID{}, false, err
	}
	v, ok := row[key]
	if !ok {
		return wireid.JID{}, false, nil
	}
	jid, err := wireid.Parse(v.(string))
	return jid, err == nil, err
}

func (l *sqlLIDMapping) GetLIDsForPNs(ctx context.Context, pns []wireid.JID) (map[string]wireid.JID, error) {
	s := (*SQL)(l)
	keys := make([]string, len(pns))
	for i, pn := range pns {
		keys[i] = pn.String()
	}
	row, err := s.Get(ctx, keystore.NamespaceLIDMapping, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]wireid.JID, len(row))
	for k, v := range row {
		jid, err := wireid.Parse(v.(string))
		if err != nil {
			continue
		}
		out[k] = jid
	}
	return out, nil
}

var _ keystore.Keystore = (*SQL)(nil)
