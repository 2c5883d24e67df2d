// Package config loads the gateway's single YAML configuration file
// (spec.md §6): top-level appVersion/apisRootPath/docServers/auth/
// sshCredentials/clusters/storage, with `secret_file:` indirection on
// any secret field and an optional `path:/dir` directory-of-YAML-files
// form for clusters.
//
// Grounded on the teacher's one use of `gopkg.in/yaml.v3`
// (cmd/warren/apply.go's plain yaml.Unmarshal into a typed struct); the
// `secret_file:`/`path:/dir` indirection and the
// YAML_CONFIG_FILE/INPUT_YAML_CONFIG_FILE env lookup come from
// original_source/src/firecrest/config.py's LoadFileSecretStr and
// settings_customise_sources.
package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/credential"
	"github.com/germanfgv/firecrest-v2/internal/transfer"
)

// Secret is a string that may be given inline or as `secret_file:/path`,
// resolved once at load time.
type Secret string

// UnmarshalYAML resolves a secret_file: indirection eagerly, so every
// other package only ever sees the resolved value.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	resolved, err := resolveSecret(raw)
	if err != nil {
		return err
	}
	*s = Secret(resolved)
	return nil
}

const secretFilePrefix = "secret_file:"

func resolveSecret(raw string) (string, error) {
	if !strings.HasPrefix(raw, secretFilePrefix) {
		return raw, nil
	}
	path := strings.TrimPrefix(raw, secretFilePrefix)
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: secret file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// OIDC is the authentication section, named after the original's Oidc
// model.
type OIDC struct {
	IssuerURL string `yaml:"issuerUrl"`
	Audience  string `yaml:"audience"`
}

// OpenFGA is the authorization section.
type OpenFGA struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout"`
	MaxConnections int    `yaml:"maxConnections"`
}

// Auth holds the authentication/authorization sections.
type Auth struct {
	Authentication OIDC     `yaml:"authentication"`
	Authorization  *OpenFGA `yaml:"authorization"`
}

// SSHStaticCredential is one entry in a username->material map variant
// of sshCredentials.
type SSHStaticCredential struct {
	PrivateKey Secret `yaml:"privateKey"`
	PublicCert string `yaml:"publicCert,omitempty"`
	Passphrase Secret `yaml:"passphrase,omitempty"`
}

// SSHCredentials is either a key-service URL or a static per-user map,
// spec.md §6's "either ... or ..." union, modeled as two optional
// fields the loader disambiguates on.
type SSHCredentials struct {
	ServiceURL string                         `yaml:"url,omitempty"`
	Static     map[string]SSHStaticCredential `yaml:"-"`
}

// UnmarshalYAML disambiguates the sshCredentials union: a YAML mapping
// node with a "url" key is the key-service variant, anything else is
// parsed as username -> material.
func (c *SSHCredentials) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		URL string `yaml:"url"`
	}
	if err := value.Decode(&probe); err == nil && probe.URL != "" {
		c.ServiceURL = probe.URL
		return nil
	}
	var static map[string]SSHStaticCredential
	if err := value.Decode(&static); err != nil {
		return fmt.Errorf("config: sshCredentials must be either {url: ...} or a username->credential map: %w", err)
	}
	c.Static = static
	return nil
}

// IsServiceURL reports whether sshCredentials named a key-mint service.
func (c SSHCredentials) IsServiceURL() bool { return c.ServiceURL != "" }

// MultipartUpload holds the transfer package's sizing knobs, named
// after the original's MultipartUpload model.
type MultipartUpload struct {
	MaxPartSizeBytes int64 `yaml:"maxPartSize"`
	ParallelRuns     int   `yaml:"parallelRuns"`
}

// Storage is the object-store section (spec.md §4.4/§6).
type Storage struct {
	Name              string          `yaml:"name"`
	PrivateURL        string          `yaml:"privateUrl"`
	PublicURL         string          `yaml:"publicUrl"`
	AccessKeyID       string          `yaml:"accessKeyId"`
	SecretAccessKey   Secret          `yaml:"secretAccessKey"`
	Region            string          `yaml:"region"`
	Tenant            string          `yaml:"tenant,omitempty"`
	Multipart         MultipartUpload `yaml:"multipart"`
	LifecycleDays     int32           `yaml:"lifecycleDays"`
	MaxOpsFileSize    int64           `yaml:"maxOpsFileSize"`
}

// ClusterConfig is one entry of the `clusters` section, the YAML shape
// that gets translated into a clustercfg.Cluster.
type ClusterConfig struct {
	Name  string `yaml:"name"`
	SSH   struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		MaxClients int    `yaml:"maxClients"`
		Timeout    struct {
			ConnectionSeconds      int `yaml:"connection"`
			LoginSeconds           int `yaml:"login"`
			CommandExecutionSeconds int `yaml:"commandExecution"`
			IdleTimeoutSeconds     int `yaml:"idleTimeout"`
			KeepAliveSeconds       int `yaml:"keepAlive"`
		} `yaml:"timeout"`
		ProxyHost string `yaml:"proxyHost,omitempty"`
		ProxyPort int    `yaml:"proxyPort,omitempty"`
	} `yaml:"ssh"`
	Scheduler struct {
		Type           string `yaml:"type"`
		Version        string `yaml:"version,omitempty"`
		APIURL         string `yaml:"apiUrl,omitempty"`
		APIVersion     string `yaml:"apiVersion,omitempty"`
		TimeoutSeconds int    `yaml:"timeout"`
	} `yaml:"scheduler"`
	ServiceAccount struct {
		Username string `yaml:"username"`
		ClientID string `yaml:"clientId"`
		Secret   Secret `yaml:"secret"`
	} `yaml:"serviceAccount"`
	Probing struct {
		IntervalSeconds int `yaml:"interval"`
		TimeoutSeconds  int `yaml:"timeout"`
	} `yaml:"probing"`
	FileSystems []struct {
		Path           string `yaml:"path"`
		DataType       string `yaml:"dataType"`
		DefaultWorkDir bool   `yaml:"defaultWorkDir,omitempty"`
	} `yaml:"fileSystems"`
	TransferDirectives []string `yaml:"datatransferJobsDirectives,omitempty"`
}

// ToCluster translates the YAML shape into the runtime clustercfg.Cluster.
func (c ClusterConfig) ToCluster() clustercfg.Cluster {
	fs := make([]clustercfg.FilesystemMount, 0, len(c.FileSystems))
	for _, f := range c.FileSystems {
		fs = append(fs, clustercfg.FilesystemMount{
			Path:           f.Path,
			DataType:       clustercfg.DataType(f.DataType),
			DefaultWorkDir: f.DefaultWorkDir,
		})
	}
	return clustercfg.Cluster{
		Name: c.Name,
		SSH: clustercfg.SSHEndpoint{
			Host:           c.SSH.Host,
			Port:           c.SSH.Port,
			ProxyHost:      c.SSH.ProxyHost,
			ProxyPort:      c.SSH.ProxyPort,
			MaxClients:     c.SSH.MaxClients,
			ConnectTimeout: time.Duration(c.SSH.Timeout.ConnectionSeconds) * time.Second,
			LoginTimeout:   time.Duration(c.SSH.Timeout.LoginSeconds) * time.Second,
			ExecuteTimeout: time.Duration(c.SSH.Timeout.CommandExecutionSeconds) * time.Second,
			IdleTimeout:    time.Duration(c.SSH.Timeout.IdleTimeoutSeconds) * time.Second,
			KeepAlive:      time.Duration(c.SSH.Timeout.KeepAliveSeconds) * time.Second,
		},
		Scheduler: clustercfg.SchedulerDescriptor{
			Type:           clustercfg.SchedulerType(c.Scheduler.Type),
			Version:        c.Scheduler.Version,
			RESTBaseURL:    c.Scheduler.APIURL,
			RESTAPIVersion: c.Scheduler.APIVersion,
			CallTimeout:    time.Duration(c.Scheduler.TimeoutSeconds) * time.Second,
		},
		ServiceAccount: clustercfg.ServiceAccount{
			Username:     c.ServiceAccount.Username,
			ClientID:     c.ServiceAccount.ClientID,
			ClientSecret: string(c.ServiceAccount.Secret),
		},
		Filesystems:         fs,
		ProbeInterval:       time.Duration(c.Probing.IntervalSeconds) * time.Second,
		ProbeTimeout:        time.Duration(c.Probing.TimeoutSeconds) * time.Second,
		TransferDirectives:  strings.Join(c.TransferDirectives, "\n"),
	}
}

// Document is the top-level YAML shape spec.md §6 names.
type Document struct {
	AppVersion   string                   `yaml:"appVersion"`
	APIsRootPath string                   `yaml:"apisRootPath"`
	DocServers   []map[string]any         `yaml:"docServers,omitempty"`
	Auth         Auth                     `yaml:"auth"`
	SSHCredentials SSHCredentials         `yaml:"sshCredentials"`
	Clusters     yaml.Node                `yaml:"clusters"`
	Storage      Storage                  `yaml:"storage"`

	ResolvedClusters []ClusterConfig `yaml:"-"`
}

const clustersPathPrefix = "path:"

// Load reads and parses the configuration file named by
// YAML_CONFIG_FILE (or INPUT_YAML_CONFIG_FILE); absence of both is a
// startup error per spec.md §6.
func Load() (*Document, error) {
	path := os.Getenv("YAML_CONFIG_FILE")
	if path == "" {
		path = os.Getenv("INPUT_YAML_CONFIG_FILE")
	}
	if path == "" {
		return nil, fmt.Errorf("config: neither YAML_CONFIG_FILE nor INPUT_YAML_CONFIG_FILE is set")
	}
	return LoadFile(path)
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	clusters, err := doc.resolveClusters(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	doc.ResolvedClusters = clusters
	return &doc, nil
}

// resolveClusters handles the `clusters` field's two forms: an inline
// YAML sequence, or the literal string "path:/dir" naming a directory
// of one-cluster-per-file YAML documents (spec.md §6).
func (d *Document) resolveClusters(configDir string) ([]ClusterConfig, error) {
	var asString string
	if err := d.Clusters.Decode(&asString); err == nil && strings.HasPrefix(asString, clustersPathPrefix) {
		dir := strings.TrimPrefix(asString, clustersPathPrefix)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(configDir, dir)
		}
		return loadClustersFromDir(dir)
	}

	var inline []ClusterConfig
	if err := d.Clusters.Decode(&inline); err != nil {
		return nil, fmt.Errorf("config: clusters: %w", err)
	}
	return inline, nil
}

func loadClustersFromDir(dir string) ([]ClusterConfig, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk clusters directory %q: %w", dir, err)
	}
	sort.Strings(files)

	clusters := make([]ClusterConfig, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("config: read cluster file %q: %w", f, err)
		}
		var c ClusterConfig
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config: parse cluster file %q: %w", f, err)
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

// ClusterRegistry builds a clustercfg.Registry from the resolved
// clusters section.
func (d *Document) ClusterRegistry() (*clustercfg.Registry, error) {
	runtime := make([]clustercfg.Cluster, 0, len(d.ResolvedClusters))
	for _, c := range d.ResolvedClusters {
		runtime = append(runtime, c.ToCluster())
	}
	return clustercfg.NewRegistry(runtime)
}

// CredentialProvider builds the credential.Provider named by the
// sshCredentials section: a RemoteProvider when it names a key-service
// URL, a StaticProvider when it names a username->material map.
func (d *Document) CredentialProvider(httpClient *http.Client) (credential.Provider, error) {
	if d.SSHCredentials.IsServiceURL() {
		return credential.NewRemoteProvider(d.SSHCredentials.ServiceURL, httpClient), nil
	}
	if len(d.SSHCredentials.Static) == 0 {
		return nil, fmt.Errorf("config: sshCredentials has neither a url nor any static entries")
	}
	byUsername := make(map[string]credential.Material, len(d.SSHCredentials.Static))
	for user, c := range d.SSHCredentials.Static {
		byUsername[user] = credential.Material{
			PrivateKeyPEM:     []byte(c.PrivateKey),
			PublicCertificate: []byte(c.PublicCert),
			Passphrase:        string(c.Passphrase),
		}
	}
	return credential.NewStaticProvider(byUsername), nil
}

// TransferConfig translates the storage section into the transfer
// package's Config.
func (d *Document) TransferConfig() transfer.Config {
	s := d.Storage
	return transfer.Config{
		PublicEndpoint:      s.PublicURL,
		PrivateEndpoint:     s.PrivateURL,
		Tenant:              s.Tenant,
		LifecycleDays:       s.LifecycleDays,
		PartSizeBytes:       s.Multipart.MaxPartSizeBytes,
		SmallOpsThreshold:   s.MaxOpsFileSize,
		DownloadConcurrency: s.Multipart.ParallelRuns,
	}
}
