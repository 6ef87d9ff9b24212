package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/lychevd/ETL/internal/bulkload"
	"github.com/lychevd/ETL/internal/checkpoint"
	"github.com/lychevd/ETL/internal/database"
	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/envelope"
	"github.com/lychevd/ETL/internal/notify"
	"github.com/lychevd/ETL/internal/pipeline"
	"github.com/lychevd/ETL/internal/platform/objectstore"
	"github.com/lychevd/ETL/internal/platform/postgres"
	"github.com/lychevd/ETL/internal/platform/sftpconn"
	"github.com/lychevd/ETL/internal/secrets"
	"github.com/lychevd/ETL/internal/transfer"
)

// Deps carries the process-level collaborators Build wires into every
// adapter. Zero values fall back to host defaults, so tests can swap in
// a memory filesystem without touching the rest.
type Deps struct {
	Logger   *slog.Logger
	Resolver *secrets.Resolver
	// FS backs local backends and file checkpoint stores.
	FS billy.Filesystem
}

// Build constructs the manager a document describes. The returned
// cleanup releases every connection Build opened; call it once the run
// is over, whatever the outcome.
func Build(ctx context.Context, doc Document, deps Deps) (*pipeline.Manager, func(), error) {
	if err := doc.Validate(); err != nil {
		return nil, nil, domain.ConfigErr(err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Resolver == nil {
		deps.Resolver = secrets.NewOS()
	}
	if deps.FS == nil {
		deps.FS = osfs.New("/")
	}

	b := &builder{deps: deps}
	spec, err := b.spec(ctx, doc)
	if err != nil {
		b.close()
		return nil, nil, err
	}
	manager, err := pipeline.New(spec, deps.Logger)
	if err != nil {
		b.close()
		return nil, nil, err
	}
	return manager, b.close, nil
}

type builder struct {
	deps    Deps
	closers []func() error
}

func (b *builder) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// resolve maps a secret reference to its value, reporting failures as
// configuration faults under the given label.
func (b *builder) resolve(ctx context.Context, ref, label string) (string, error) {
	v, err := b.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		return "", domain.ConfigErr(fmt.Errorf("resolve %s: %w", label, err))
	}
	return v, nil
}

func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.deps.Logger.Warn("cleanup failed", "error", err)
		}
	}
	b.closers = nil
}

func (b *builder) spec(ctx context.Context, doc Document) (pipeline.Spec, error) {
	spec := pipeline.Spec{
		Name: doc.Pipeline.Name,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: doc.Pipeline.MaxAttempts,
			Base:        secondsToDuration(doc.Pipeline.BackoffBaseSeconds),
			Ceiling:     secondsToDuration(doc.Pipeline.BackoffMaxSeconds),
		},
		Concurrency:   doc.Pipeline.Concurrency,
		SkipCompleted: doc.Pipeline.SkipCompleted,
	}
	switch {
	case doc.Pipeline.DeleteSourceOnSuccess:
		spec.Cleanup = pipeline.CleanupDelete
	case doc.Pipeline.MoveToDone:
		spec.Cleanup = pipeline.CleanupMoveDone
	}

	source, err := b.endpoint(ctx, *doc.Source)
	if err != nil {
		return pipeline.Spec{}, fmt.Errorf("source: %w", err)
	}
	spec.Source = source

	if doc.Destination != nil {
		destination, err := b.endpoint(ctx, *doc.Destination)
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("destination: %w", err)
		}
		spec.Destination = destination
	}
	if doc.Load != nil {
		load, err := b.load(ctx, *doc.Load)
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("load: %w", err)
		}
		spec.Load = load
	}

	if doc.Decrypt != nil {
		env, err := envelope.New(ctx, b.deps.Resolver, envelopeConfig(*doc.Decrypt))
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("decrypt: %w", err)
		}
		spec.Decrypt = env
	}
	if doc.Encrypt != nil {
		env, err := envelope.New(ctx, b.deps.Resolver, envelopeConfig(*doc.Encrypt))
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("encrypt: %w", err)
		}
		spec.Encrypt = env
	}
	if doc.Rename != nil {
		spec.Rename = renameFunc(*doc.Rename)
	}

	if doc.Checkpoint != nil {
		store, err := b.checkpointStore(ctx, *doc.Checkpoint)
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("checkpoint: %w", err)
		}
		spec.Checkpoints = store
	}

	sinks, err := b.sinks(ctx, doc.Notify)
	if err != nil {
		return pipeline.Spec{}, err
	}
	spec.Sinks = sinks
	return spec, nil
}

func (b *builder) endpoint(ctx context.Context, section EndpointSection) (transfer.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(section.Type)) {
	case "sftp":
		return b.sftp(ctx, *section.SFTP)
	case "objectstore":
		return b.objectStore(ctx, *section.ObjectStore)
	case "local":
		return transfer.NewLocal(b.deps.FS, transfer.LocalConfig{
			Dir:     section.Local.Dir,
			Pattern: section.Local.Pattern,
			DoneDir: section.Local.DoneDir,
		})
	case "http":
		return b.httpAPI(ctx, *section.HTTP)
	default:
		return nil, domain.Configf("unsupported backend type %q", section.Type)
	}
}

func (b *builder) sftp(ctx context.Context, section SFTPSection) (transfer.Backend, error) {
	conn := sftpconn.Config{
		Host:    section.Host,
		Port:    section.Port,
		User:    section.User,
		HostKey: section.HostKey,
	}
	if section.PasswordRef != "" {
		password, err := b.resolve(ctx, section.PasswordRef, "password")
		if err != nil {
			return nil, err
		}
		conn.Password = password
	}
	if section.PrivateKeyRef != "" {
		key, err := b.deps.Resolver.ResolveBytes(ctx, section.PrivateKeyRef)
		if err != nil {
			return nil, domain.ConfigErr(fmt.Errorf("resolve private key: %w", err))
		}
		conn.PrivateKey = key
	}
	if section.KeyPassphraseRef != "" {
		passphrase, err := b.resolve(ctx, section.KeyPassphraseRef, "key passphrase")
		if err != nil {
			return nil, err
		}
		conn.Passphrase = passphrase
	}
	return transfer.NewSFTP(conn, transfer.SFTPConfig{
		Dir:     section.Dir,
		Pattern: section.Pattern,
		DoneDir: section.DoneDir,
	})
}

func (b *builder) objectStore(ctx context.Context, section ObjectStoreSection) (transfer.Backend, error) {
	accessKey, err := b.resolve(ctx, section.AccessKeyRef, "access key")
	if err != nil {
		return nil, err
	}
	secretKey, err := b.resolve(ctx, section.SecretKeyRef, "secret key")
	if err != nil {
		return nil, err
	}
	region := section.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := objectstore.NewClient(objectstore.Config{
		Endpoint:  section.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Region:    region,
		UseSSL:    section.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return transfer.NewObjectStore(client, transfer.ObjectStoreConfig{
		Bucket:     section.Bucket,
		Prefix:     section.Prefix,
		Pattern:    section.Pattern,
		DonePrefix: section.DonePrefix,
	})
}

func (b *builder) httpAPI(ctx context.Context, section HTTPSection) (transfer.Backend, error) {
	cfg := transfer.HTTPAPIConfig{
		Timeout: secondsToDuration(section.TimeoutSeconds),
	}
	for _, ep := range section.Endpoints {
		cfg.Endpoints = append(cfg.Endpoints, transfer.HTTPEndpoint{
			Name:    ep.Name,
			URL:     ep.URL,
			Headers: ep.Headers,
		})
	}
	if section.BearerTokenRef != "" {
		token, err := b.resolve(ctx, section.BearerTokenRef, "bearer token")
		if err != nil {
			return nil, err
		}
		cfg.BearerToken = token
	}
	if section.OAuth != nil {
		clientSecret, err := b.resolve(ctx, section.OAuth.ClientSecretRef, "oauth client secret")
		if err != nil {
			return nil, err
		}
		cfg.OAuth = &transfer.OAuthConfig{
			TokenURL:     section.OAuth.TokenURL,
			ClientID:     section.OAuth.ClientID,
			ClientSecret: clientSecret,
			Scopes:       section.OAuth.Scopes,
		}
	}
	return transfer.NewHTTPAPI(ctx, cfg)
}

func (b *builder) load(ctx context.Context, section LoadSection) (*pipeline.LoadSpec, error) {
	url, err := b.resolve(ctx, section.URLRef, "url")
	if err != nil {
		return nil, err
	}

	var backend database.Backend
	switch strings.ToLower(strings.TrimSpace(section.Type)) {
	case "postgres":
		pool, err := postgres.OpenPool(ctx, postgres.NewConfig(url))
		if err != nil {
			return nil, err
		}
		b.onClose(func() error { pool.Close(); return nil })
		backend = database.NewPostgres(pool)
	case "sql":
		db, err := postgres.Open(ctx, postgres.NewConfig(url))
		if err != nil {
			return nil, err
		}
		b.onClose(db.Close)
		backend, err = database.NewSQL(db, "sql", database.PlaceholderDollar)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domain.Configf("unsupported load type %q", section.Type)
	}

	delimiter, err := ParseDelimiter(section.CSV.Delimiter)
	if err != nil {
		return nil, domain.ConfigErr(fmt.Errorf("csv.delimiter: %w", err))
	}
	return &pipeline.LoadSpec{
		Backend: backend,
		Table:   section.Table,
		CSV: bulkload.CSVOptions{
			Comma:            delimiter,
			Header:           section.CSV.Header,
			SkipRows:         section.CSV.SkipRows,
			TrimLeadingSpace: section.CSV.TrimLeadingSpace,
		},
		Options: bulkload.Options{
			ChunkSize:     section.ChunkSize,
			MaxRejectRate: section.MaxRejectRate,
		},
		Truncate: section.TruncateBeforeLoad,
	}, nil
}

func (b *builder) checkpointStore(ctx context.Context, section CheckpointSection) (checkpoint.Store, error) {
	switch strings.ToLower(strings.TrimSpace(section.Type)) {
	case "memory":
		return checkpoint.NewMemory(), nil
	case "file":
		store, err := checkpoint.NewFile(b.deps.FS, section.Path)
		if err != nil {
			return nil, err
		}
		b.onClose(store.Close)
		return store, nil
	case "postgres":
		url, err := b.resolve(ctx, section.URLRef, "url")
		if err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, postgres.NewConfig(url))
		if err != nil {
			return nil, err
		}
		b.onClose(db.Close)
		store := checkpoint.NewPostgres(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, domain.Configf("unsupported checkpoint type %q", section.Type)
	}
}

// sinks builds the configured notification channels; with none
// configured the structured log is the default channel.
func (b *builder) sinks(ctx context.Context, sections []NotifySection) ([]notify.Sink, error) {
	if len(sections) == 0 {
		return []notify.Sink{notify.NewLog(b.deps.Logger)}, nil
	}

	out := make([]notify.Sink, 0, len(sections))
	for i, section := range sections {
		sink, err := b.sink(ctx, section)
		if err != nil {
			return nil, fmt.Errorf("notify[%d]: %w", i, err)
		}
		out = append(out, sink)
	}
	return out, nil
}

func (b *builder) sink(ctx context.Context, section NotifySection) (notify.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(section.Type)) {
	case "log":
		return notify.NewLog(b.deps.Logger), nil
	case "email":
		return notify.NewEmail(notify.EmailConfig{
			Host:        section.Host,
			Port:        section.Port,
			From:        section.From,
			To:          section.To,
			CC:          section.CC,
			Username:    section.Username,
			PasswordRef: section.PasswordRef,
			TLS:         section.TLS,
		}, b.deps.Resolver)
	case "webhook":
		return notify.NewWebhook(section.URL, secondsToDuration(section.TimeoutSeconds))
	case "runlog":
		url, err := b.resolve(ctx, section.URLRef, "url")
		if err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, postgres.NewConfig(url))
		if err != nil {
			return nil, err
		}
		b.onClose(db.Close)
		sink := notify.NewRunLog(db)
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, domain.Configf("unsupported sink type %q", section.Type)
	}
}

func envelopeConfig(section EnvelopeSection) envelope.Config {
	return envelope.Config{
		KeyRef:        section.KeyRef,
		PassphraseRef: section.PassphraseRef,
		Armor:         section.Armor,
	}
}

func renameFunc(section RenameSection) func(string) string {
	return func(name string) string {
		name = strings.TrimSuffix(name, section.StripSuffix)
		return name + section.AddSuffix
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
