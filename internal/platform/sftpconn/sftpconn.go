// Package sftpconn dials SFTP sessions over SSH. Adapters open one
// session per operation, so the dial path stays cheap and stateless.
package sftpconn

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// PrivateKey is an optional PEM-encoded key. When both a key and a
	// password are set, the key is offered first.
	PrivateKey []byte
	Passphrase string
	// HostKey pins the server key in authorized_keys format. When empty
	// the server key is not verified.
	HostKey     string
	DialTimeout time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user is required")
	}
	if c.Password == "" && len(c.PrivateKey) == 0 {
		return errors.New("password or private key is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// Conn is one SFTP session and the SSH connection carrying it.
type Conn struct {
	Client *sftp.Client

	ssh *ssh.Client
}

func (c *Conn) Close() error {
	err := c.Client.Close()
	if cerr := c.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

func Dial(cfg Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.HostKey)
	if err != nil {
		return nil, err
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	sshClient, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}

	return &Conn{Client: sftpClient, ssh: sshClient}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods, nil
}

func hostKeyCallback(hostKey string) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(hostKey) == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hostKey))
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	return ssh.FixedHostKey(key), nil
}
