package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// AuthMethod selects how the archiver authenticates to the archive host.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"
)

// ArchiveConfig holds the connection settings for the report archive host.
type ArchiveConfig struct {
	// Host is the archive hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH username.
	User string

	// AuthMethod selects password or key authentication.
	AuthMethod AuthMethod

	// Password for password authentication.
	Password string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// PrivateKeyPassphrase unlocks an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the known_hosts file used for host key checks.
	// Empty disables verification, which is only acceptable in tests.
	KnownHostsPath string

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// RemoteDir is the base directory on the archive host.
	RemoteDir string
}

// DefaultArchiveConfig returns a config with the usual defaults filled in.
func DefaultArchiveConfig(host, user string) *ArchiveConfig {
	return &ArchiveConfig{
		Host:           host,
		Port:           22,
		User:           user,
		AuthMethod:     AuthMethodKey,
		KnownHostsPath: filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectTimeout: 30 * time.Second,
		RemoteDir:      "/var/lib/poolhand/reports",
	}
}

// Validate checks the configuration.
func (c *ArchiveConfig) Validate() error {
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
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.RemoteDir == "" {
		return fmt.Errorf("remote directory is required")
	}
	return nil
}

// Address returns the host:port address of the archive host.
func (c *ArchiveConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// buildClientConfig assembles the ssh.ClientConfig.
func (c *ArchiveConfig) buildClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))
	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Archiver ships report artifacts to a remote archive host over SFTP.
type Archiver struct {
	cfg    *ArchiveConfig
	logger *telemetry.Logger
}

// NewArchiver creates an archiver for the given host.
func NewArchiver(cfg *ArchiveConfig, logger *telemetry.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.NewPreconditionError("invalid archive config", err).
			WithCode(core.ErrCodeInvalidSpec)
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Archiver{cfg: cfg, logger: logger.NewComponentLogger("archiver")}, nil
}

// Upload copies the given local files into <remote dir>/<run id>/ on the
// archive host. Every file keeps its base name.
func (a *Archiver) Upload(ctx context.Context, runID string, localPaths []string) error {
	clientConfig, err := a.cfg.buildClientConfig()
	if err != nil {
		return core.NewPreconditionError("archive client config", err).
			WithCode(core.ErrCodeInvalidSpec)
	}

	client, err := a.dial(ctx, clientConfig)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return core.NewTransportError("open sftp session", err).
			WithOperation("archive")
	}
	defer func() { _ = sftpClient.Close() }()

	remoteDir := path.Join(a.cfg.RemoteDir, runID)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return core.NewTransportError("create remote archive directory", err).
			WithOperation("archive").WithResource(remoteDir)
	}

	for _, localPath := range localPaths {
		remotePath := path.Join(remoteDir, filepath.Base(localPath))
		if err := a.uploadOne(sftpClient, localPath, remotePath); err != nil {
			return err
		}
	}

	a.logger.WithRunID(runID).Infof("%d artifacts archived to %s:%s",
		len(localPaths), a.cfg.Host, remoteDir)
	return nil
}

// dial connects with the configured timeout, honoring ctx cancellation.
func (a *Archiver) dial(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", a.cfg.Address(), clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- client
	}()

	select {
	case <-ctx.Done():
		return nil, core.NewTransportError("archive connection canceled", ctx.Err()).
			WithOperation("archive")
	case err := <-errCh:
		return nil, core.NewTransportError("connect to archive host", err).
			WithOperation("archive").WithResource(a.cfg.Address())
	case client := <-connCh:
		return client, nil
	}
}

func (a *Archiver) uploadOne(sftpClient *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return core.NewPreconditionError("open local artifact", err).
			WithResource(localPath)
	}
	defer func() { _ = src.Close() }()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return core.NewTransportError("create remote artifact", err).
			WithOperation("archive").WithResource(remotePath)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return core.NewTransportError("copy artifact", err).
			WithOperation("archive").WithResource(remotePath)
	}
	return nil
}
