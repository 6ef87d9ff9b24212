// Package config parses pipeline YAML documents and builds runnable
// managers from them.
package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaV1 tags the document layout this package understands.
const SchemaV1 = "etl.pipeline.v1"

// Document is one pipeline definition. Exactly one of destination and
// load receives the units the source yields.
type Document struct {
	Schema      string             `yaml:"schema"`
	Pipeline    PipelineSection    `yaml:"pipeline"`
	Source      *EndpointSection   `yaml:"source"`
	Destination *EndpointSection   `yaml:"destination"`
	Load        *LoadSection       `yaml:"load"`
	Decrypt     *EnvelopeSection   `yaml:"decrypt"`
	Encrypt     *EnvelopeSection   `yaml:"encrypt"`
	Rename      *RenameSection     `yaml:"rename"`
	Checkpoint  *CheckpointSection `yaml:"checkpoint"`
	Notify      []NotifySection    `yaml:"notify"`
}

type PipelineSection struct {
	Name               string  `yaml:"name"`
	MaxAttempts        int     `yaml:"max_attempts"`
	BackoffBaseSeconds float64 `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds  float64 `yaml:"backoff_max_seconds"`
	Concurrency        int     `yaml:"concurrency"`
	SkipCompleted      bool    `yaml:"skip_completed"`
	// DeleteSourceOnSuccess and MoveToDone select the post-delivery
	// treatment of source copies; at most one may be set.
	DeleteSourceOnSuccess bool `yaml:"delete_source_on_success"`
	MoveToDone            bool `yaml:"move_to_done"`
}

// EndpointSection names a backend type and carries the matching
// sub-section.
type EndpointSection struct {
	Type        string              `yaml:"type"`
	SFTP        *SFTPSection        `yaml:"sftp"`
	ObjectStore *ObjectStoreSection `yaml:"objectstore"`
	Local       *LocalSection       `yaml:"local"`
	HTTP        *HTTPSection        `yaml:"http"`
}

type SFTPSection struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	PasswordRef      string `yaml:"password_ref"`
	PrivateKeyRef    string `yaml:"private_key_ref"`
	KeyPassphraseRef string `yaml:"key_passphrase_ref"`
	HostKey          string `yaml:"host_key"`
	Dir              string `yaml:"dir"`
	Pattern          string `yaml:"pattern"`
	DoneDir          string `yaml:"done_dir"`
}

type ObjectStoreSection struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyRef string `yaml:"access_key_ref"`
	SecretKeyRef string `yaml:"secret_key_ref"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Pattern      string `yaml:"pattern"`
	DonePrefix   string `yaml:"done_prefix"`
}

type LocalSection struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
	DoneDir string `yaml:"done_dir"`
}

type HTTPSection struct {
	BearerTokenRef string                `yaml:"bearer_token_ref"`
	TimeoutSeconds float64               `yaml:"timeout_seconds"`
	OAuth          *OAuthSection         `yaml:"oauth"`
	Endpoints      []HTTPEndpointSection `yaml:"endpoints"`
}

type OAuthSection struct {
	TokenURL        string   `yaml:"token_url"`
	ClientID        string   `yaml:"client_id"`
	ClientSecretRef string   `yaml:"client_secret_ref"`
	Scopes          []string `yaml:"scopes"`
}

type HTTPEndpointSection struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type LoadSection struct {
	// Type selects the ingestion path: postgres uses the COPY protocol,
	// sql uses multi-row INSERT statements.
	Type               string     `yaml:"type"`
	URLRef             string     `yaml:"url_ref"`
	Table              string     `yaml:"table"`
	TruncateBeforeLoad bool       `yaml:"truncate_before_load"`
	ChunkSize          int        `yaml:"chunk_size"`
	MaxRejectRate      float64    `yaml:"max_reject_rate"`
	CSV                CSVSection `yaml:"csv"`
}

type CSVSection struct {
	// Delimiter is a single character, or the word TAB.
	Delimiter        string `yaml:"delimiter"`
	Header           bool   `yaml:"header"`
	SkipRows         int    `yaml:"skip_rows"`
	TrimLeadingSpace bool   `yaml:"trim_leading_space"`
}

type EnvelopeSection struct {
	KeyRef        string `yaml:"key_ref"`
	PassphraseRef string `yaml:"passphrase_ref"`
	Armor         bool   `yaml:"armor"`
}

// RenameSection rewrites destination names, e.g. dropping a .pgp suffix
// after decryption.
type RenameSection struct {
	StripSuffix string `yaml:"strip_suffix"`
	AddSuffix   string `yaml:"add_suffix"`
}

type CheckpointSection struct {
	Type   string `yaml:"type"`
	Path   string `yaml:"path"`
	URLRef string `yaml:"url_ref"`
}

type NotifySection struct {
	Type string `yaml:"type"`

	// email
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	CC          []string `yaml:"cc"`
	Username    string   `yaml:"username"`
	PasswordRef string   `yaml:"password_ref"`
	TLS         string   `yaml:"tls"`

	// webhook
	URL            string  `yaml:"url"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	// runlog
	URLRef string `yaml:"url_ref"`
}

// ParsePipeline decodes input, fills in defaults, and validates the
// document structure. Backend-level validation happens again when the
// adapters are built.
func ParsePipeline(input []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return Document{}, fmt.Errorf("decode pipeline document: %w", err)
	}
	doc.applyDefaults()
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d *Document) applyDefaults() {
	if d.Pipeline.MaxAttempts == 0 {
		d.Pipeline.MaxAttempts = 3
	}
	if d.Pipeline.BackoffBaseSeconds == 0 {
		d.Pipeline.BackoffBaseSeconds = 2
	}
	if d.Pipeline.BackoffMaxSeconds == 0 {
		d.Pipeline.BackoffMaxSeconds = 60
	}
	if d.Pipeline.Concurrency == 0 {
		d.Pipeline.Concurrency = 1
	}
}

func (d Document) Validate() error {
	if strings.TrimSpace(d.Schema) != SchemaV1 {
		return fmt.Errorf("schema must be %q", SchemaV1)
	}
	if strings.TrimSpace(d.Pipeline.Name) == "" {
		return errors.New("pipeline.name is required")
	}
	if d.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", d.Pipeline.MaxAttempts)
	}
	if d.Pipeline.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("pipeline.backoff_base_seconds must be positive, got %g", d.Pipeline.BackoffBaseSeconds)
	}
	if d.Pipeline.BackoffMaxSeconds < d.Pipeline.BackoffBaseSeconds {
		return fmt.Errorf("pipeline.backoff_max_seconds %g is below backoff_base_seconds %g",
			d.Pipeline.BackoffMaxSeconds, d.Pipeline.BackoffBaseSeconds)
	}
	if d.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be >= 1, got %d", d.Pipeline.Concurrency)
	}
	if d.Pipeline.DeleteSourceOnSuccess && d.Pipeline.MoveToDone {
		return errors.New("pipeline.delete_source_on_success and pipeline.move_to_done are mutually exclusive")
	}

	if d.Source == nil {
		return errors.New("source is required")
	}
	if err := d.Source.validate("source", true); err != nil {
		return err
	}
	if (d.Destination == nil) == (d.Load == nil) {
		return errors.New("exactly one of destination and load must be set")
	}
	if d.Destination != nil {
		if err := d.Destination.validate("destination", false); err != nil {
			return err
		}
	}
	if d.Load != nil {
		if err := d.Load.validate(); err != nil {
			return err
		}
		if d.Encrypt != nil {
			return errors.New("encrypt cannot be combined with load")
		}
	}

	if d.Decrypt != nil && strings.TrimSpace(d.Decrypt.KeyRef) == "" {
		return errors.New("decrypt.key_ref is required")
	}
	if d.Encrypt != nil && strings.TrimSpace(d.Encrypt.KeyRef) == "" {
		return errors.New("encrypt.key_ref is required")
	}
	if d.Rename != nil && d.Rename.StripSuffix == "" && d.Rename.AddSuffix == "" {
		return errors.New("rename requires strip_suffix or add_suffix")
	}

	if d.Checkpoint != nil {
		if err := d.Checkpoint.validate(); err != nil {
			return err
		}
	}
	if d.Pipeline.SkipCompleted && d.Checkpoint == nil {
		return errors.New("pipeline.skip_completed requires a checkpoint section")
	}

	for i, sink := range d.Notify {
		if err := sink.validate(fmt.Sprintf("notify[%d]", i)); err != nil {
			return err
		}
	}

	if _, err := ParseDelimiter(d.loadDelimiter()); err != nil {
		return fmt.Errorf("load.csv.delimiter: %w", err)
	}
	return nil
}

func (d Document) loadDelimiter() string {
	if d.Load == nil {
		return ""
	}
	return d.Load.CSV.Delimiter
}

func (e EndpointSection) validate(prefix string, isSource bool) error {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "sftp":
		if e.SFTP == nil {
			return fmt.Errorf("%s.sftp section is required for type sftp", prefix)
		}
		if strings.TrimSpace(e.SFTP.Host) == "" {
			return fmt.Errorf("%s.sftp.host is required", prefix)
		}
		if strings.TrimSpace(e.SFTP.User) == "" {
			return fmt.Errorf("%s.sftp.user is required", prefix)
		}
		if e.SFTP.PasswordRef == "" && e.SFTP.PrivateKeyRef == "" {
			return fmt.Errorf("%s.sftp needs password_ref or private_key_ref", prefix)
		}
		if strings.TrimSpace(e.SFTP.Dir) == "" {
			return fmt.Errorf("%s.sftp.dir is required", prefix)
		}
	case "objectstore":
		if e.ObjectStore == nil {
			return fmt.Errorf("%s.objectstore section is required for type objectstore", prefix)
		}
		if strings.TrimSpace(e.ObjectStore.Endpoint) == "" {
			return fmt.Errorf("%s.objectstore.endpoint is required", prefix)
		}
		if strings.TrimSpace(e.ObjectStore.Bucket) == "" {
			return fmt.Errorf("%s.objectstore.bucket is required", prefix)
		}
		if e.ObjectStore.AccessKeyRef == "" || e.ObjectStore.SecretKeyRef == "" {
			return fmt.Errorf("%s.objectstore needs access_key_ref and secret_key_ref", prefix)
		}
	case "local":
		if e.Local == nil {
			return fmt.Errorf("%s.local section is required for type local", prefix)
		}
		if strings.TrimSpace(e.Local.Dir) == "" {
			return fmt.Errorf("%s.local.dir is required", prefix)
		}
	case "http":
		if !isSource {
			return fmt.Errorf("%s.type http is a read-only source", prefix)
		}
		if e.HTTP == nil {
			return fmt.Errorf("%s.http section is required for type http", prefix)
		}
		if len(e.HTTP.Endpoints) == 0 {
			return fmt.Errorf("%s.http.endpoints must be non-empty", prefix)
		}
		for i, ep := range e.HTTP.Endpoints {
			if strings.TrimSpace(ep.Name) == "" {
				return fmt.Errorf("%s.http.endpoints[%d].name is required", prefix, i)
			}
			if strings.TrimSpace(ep.URL) == "" {
				return fmt.Errorf("%s.http.endpoints[%d].url is required", prefix, i)
			}
		}
	case "":
		return fmt.Errorf("%s.type is required", prefix)
	default:
		return fmt.Errorf("%s.type unsupported: %q", prefix, e.Type)
	}
	return nil
}

func (l LoadSection) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Type)) {
	case "postgres", "sql":
	case "":
		return errors.New("load.type is required")
	default:
		return fmt.Errorf("load.type unsupported: %q", l.Type)
	}
	if strings.TrimSpace(l.URLRef) == "" {
		return errors.New("load.url_ref is required")
	}
	if strings.TrimSpace(l.Table) == "" {
		return errors.New("load.table is required")
	}
	if l.ChunkSize < 0 {
		return fmt.Errorf("load.chunk_size must be >= 0, got %d", l.ChunkSize)
	}
	if l.MaxRejectRate < 0 || l.MaxRejectRate >= 1 {
		return fmt.Errorf("load.max_reject_rate must be in [0, 1), got %g", l.MaxRejectRate)
	}
	if l.CSV.SkipRows < 0 {
		return fmt.Errorf("load.csv.skip_rows must be >= 0, got %d", l.CSV.SkipRows)
	}
	return nil
}

func (c CheckpointSection) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Path) == "" {
			return errors.New("checkpoint.path is required for type file")
		}
	case "postgres":
		if strings.TrimSpace(c.URLRef) == "" {
			return errors.New("checkpoint.url_ref is required for type postgres")
		}
	case "":
		return errors.New("checkpoint.type is required")
	default:
		return fmt.Errorf("checkpoint.type unsupported: %q", c.Type)
	}
	return nil
}

func (n NotifySection) validate(prefix string) error {
	switch strings.ToLower(strings.TrimSpace(n.Type)) {
	case "log":
	case "email":
		if strings.TrimSpace(n.Host) == "" {
			return fmt.Errorf("%s.host is required for type email", prefix)
		}
		if strings.TrimSpace(n.From) == "" {
			return fmt.Errorf("%s.from is required for type email", prefix)
		}
		if len(n.To) == 0 {
			return fmt.Errorf("%s.to must be non-empty for type email", prefix)
		}
	case "webhook":
		if strings.TrimSpace(n.URL) == "" {
			return fmt.Errorf("%s.url is required for type webhook", prefix)
		}
	case "runlog":
		if strings.TrimSpace(n.URLRef) == "" {
			return fmt.Errorf("%s.url_ref is required for type runlog", prefix)
		}
	case "":
		return fmt.Errorf("%s.type is required", prefix)
	default:
		return fmt.Errorf("%s.type unsupported: %q", prefix, n.Type)
	}
	return nil
}

// ParseDelimiter turns the configured delimiter into a rune. The empty
// string defers to the decoder default, and TAB names the character that
// cannot be written literally in YAML.
func ParseDelimiter(s string) (rune, error) {
	switch {
	case s == "":
		return 0, nil
	case strings.EqualFold(s, "tab") || s == "\t":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("must be a single character or TAB, got %q", s)
	}
	return runes[0], nil
}
