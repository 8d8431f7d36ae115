package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod is the SSH authentication type of an SFTP backend.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SFTPConfig holds the connection settings of an SFTP backend.
type SFTPConfig struct {
	// Host is the remote hostname or IP address
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the SSH port (default: 22)
	Port int `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	// User is the SSH username
	User string `json:"user" yaml:"user" validate:"required"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `json:"auth" yaml:"auth" validate:"omitempty,oneof=password key"`

	// Password for password-based authentication
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `json:"key_path,omitempty" yaml:"key_path,omitempty"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `json:"key_passphrase,omitempty" yaml:"key_passphrase,omitempty"`

	// KnownHostsPath is the known_hosts file. Host keys are not verified when empty.
	KnownHostsPath string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`

	// Root is the remote directory content paths are resolved under
	Root string `json:"root" yaml:"root"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `json:"-" yaml:"-"`
}

// DefaultSFTPConfig returns an SFTPConfig with defaults applied.
func DefaultSFTPConfig(host, user string) SFTPConfig {
	return SFTPConfig{
		Host:              host,
		Port:              22,
		User:              user,
		AuthMethod:        AuthMethodKey,
		KnownHostsPath:    filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		Root:              "/",
		ConnectionTimeout: 10 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *SFTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// Address returns the formatted SSH address (host:port).
func (c *SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the configuration.
func (c *SFTPConfig) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for a "Password:" prompt
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// SFTPBackend is a storage volume on a remote host reached over SFTP. The
// connection is established lazily and re-established after failures.
type SFTPBackend struct {
	config SFTPConfig
	groups []string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

// NewSFTPBackend creates a backend. No connection is made until first use.
func NewSFTPBackend(config SFTPConfig, functionGroups []string, logger zerolog.Logger) (*SFTPBackend, error) {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.AuthMethod == "" {
		config.AuthMethod = AuthMethodKey
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 10 * time.Second
	}
	if config.Root == "" {
		config.Root = "/"
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}

	return &SFTPBackend{
		config: config,
		groups: append([]string(nil), functionGroups...),
		logger: logger.With().Str("component", "sftp-storage").Str("address", config.Address()).Logger(),
	}, nil
}

// FunctionGroups implements FunctionGrouper.
func (b *SFTPBackend) FunctionGroups() []string {
	return b.groups
}

// client returns a live SFTP client, connecting if needed.
func (b *SFTPBackend) client(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sftp != nil {
		return b.sftp, nil
	}

	clientConfig, err := b.config.BuildSSHClientConfig()
	if err != nil {
		return nil, err
	}

	b.logger.Debug().Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", b.config.Address(), clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		// The dial is bounded by ConnectionTimeout; close it if it still succeeds.
		go func() {
			select {
			case late := <-connChan:
				_ = late.Close()
			case <-errChan:
			}
		}()
		return nil, ctx.Err()
	case err := <-errChan:
		return nil, fmt.Errorf("connect %s: %w", b.config.Address(), err)
	case conn = <-connChan:
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}

	b.conn = conn
	b.sftp = client
	b.logger.Info().Msg("SFTP storage connected")
	return client, nil
}

// reset drops the connection after an I/O failure.
func (b *SFTPBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *SFTPBackend) closeLocked() error {
	var errs []error
	if b.sftp != nil {
		errs = append(errs, b.sftp.Close())
		b.sftp = nil
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
		b.conn = nil
	}
	return errors.Join(errs...)
}

// Close releases the connection.
func (b *SFTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *SFTPBackend) resolve(p string) string {
	return path.Join(b.config.Root, path.Clean("/"+p))
}

// ContentObjectAt implements Backend.
func (b *SFTPBackend) ContentObjectAt(ctx context.Context, p string) (ContentObject, bool, error) {
	client, err := b.client(ctx)
	if err != nil {
		return ContentObject{}, false, err
	}
	info, err := client.Stat(b.resolve(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ContentObject{}, false, nil
		}
		b.reset()
		return ContentObject{}, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return ContentObject{}, false, nil
	}
	return ContentObject{Path: p, Size: info.Size()}, true, nil
}

// FreeCapacity implements Backend. It requires the server's statvfs extension.
func (b *SFTPBackend) FreeCapacity(ctx context.Context) (int64, error) {
	client, err := b.client(ctx)
	if err != nil {
		return 0, err
	}
	vfs, err := client.StatVFS(b.config.Root)
	if err != nil {
		return 0, fmt.Errorf("statvfs %s: %w", b.config.Root, err)
	}
	return int64(vfs.Bavail * vfs.Frsize), nil
}

// Reachable implements Backend.
func (b *SFTPBackend) Reachable(ctx context.Context) bool {
	client, err := b.client(ctx)
	if err != nil {
		return false
	}
	if _, err := client.Getwd(); err != nil {
		b.logger.Warn().Err(err).Msg("SFTP session is dead, reconnecting on next use")
		b.reset()
		return false
	}
	return true
}
