package sshc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type HostSpec struct {
	Addr         string
	User         string
	PrivateKey   []byte
	Password     string
	UseSudo      bool
	SudoPassword string
}

// File is one file to place on the remote host.
type File struct {
	Path string
	Mode os.FileMode
	Data []byte
}

func (h HostSpec) clientConfig() (*ssh.ClientConfig, error) {
	if h.Addr == "" || h.User == "" {
		return nil, errors.New("host addr and user required")
	}
	var authMethods []ssh.AuthMethod
	if len(h.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(bytes.TrimSpace(h.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if h.Password != "" {
		authMethods = append(authMethods, ssh.Password(h.Password))
	}
	if len(authMethods) == 0 {
		return nil, errors.New("no auth methods provided")
	}
	return &ssh.ClientConfig{
		User:            h.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

func (h HostSpec) dial() (*ssh.Client, error) {
	cfg, err := h.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := h.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return client, nil
}

// PushFiles uploads files over SFTP. With sudo the files are staged in /tmp
// and installed into place by a remote shell.
func PushFiles(h HostSpec, files []File) error {
	client, err := h.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	if !h.UseSudo {
		for _, f := range files {
			if err := sftpClient.MkdirAll(path.Dir(f.Path)); err != nil {
				return fmt.Errorf("mkdir %s: %w", path.Dir(f.Path), err)
			}
			if err := writeRemoteFile(sftpClient, f.Path, f.Data, f.Mode); err != nil {
				return err
			}
		}
		slog.Info("pushed files", "host", h.Addr, "count", len(files))
		return nil
	}

	commands := []string{"set -e"}
	for i, f := range files {
		tmp := fmt.Sprintf("/tmp/unitbrain-%d-%d", time.Now().UnixNano(), i)
		if err := writeRemoteFile(sftpClient, tmp, f.Data, 0o600); err != nil {
			return err
		}
		commands = append(commands,
			fmt.Sprintf("install -D -m %04o %s %s", f.Mode.Perm(), tmp, f.Path),
			fmt.Sprintf("rm -f %s", tmp))
	}
	if err := runRemote(client, strings.Join(commands, " && "), h.SudoPassword, true); err != nil {
		return fmt.Errorf("run remote command: %w", err)
	}
	slog.Info("pushed files", "host", h.Addr, "count", len(files), "sudo", true)
	return nil
}

func writeRemoteFile(c *sftp.Client, path string, data []byte, perm os.FileMode) error {
	f, err := c.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write remote file %s: %w", path, err)
	}
	if err := c.Chmod(path, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

func runRemote(client *ssh.Client, script, sudoPassword string, useSudo bool) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()
	var output bytes.Buffer
	sess.Stdout = &output
	sess.Stderr = &output
	cmd := fmt.Sprintf("bash -lc %q", script)
	if useSudo {
		if sudoPassword == "" {
			return errors.New("sudo password required")
		}
		stdin, err := sess.StdinPipe()
		if err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		cmd = fmt.Sprintf("sudo -S -p '' %s", cmd)
		go func() {
			defer stdin.Close()
			io.WriteString(stdin, sudoPassword+"\n")
		}()
	}
	if err := sess.Run(cmd); err != nil {
		return fmt.Errorf("command failed: %w (output: %s)", err, output.String())
	}
	return nil
}

// PublicKey returns the authorized_keys line for a private key.
func PublicKey(privateKey string) (string, error) {
	signer, err := ssh.ParsePrivateKey(bytes.TrimSpace([]byte(privateKey)))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}
