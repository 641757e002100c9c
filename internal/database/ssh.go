package database

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SetupTunnel establishes an SSH tunnel to the endpoint's host and returns
// a copy of the endpoint pointing at the local end of the tunnel.
func SetupTunnel(ep Endpoint, logger *zap.Logger) (Endpoint, func(), error) {
	key, err := os.ReadFile(ep.SSHKey)
	if err != nil {
		return ep, nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return ep, nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if ep.SSHKnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(ep.SSHKnownHosts)
		if err != nil {
			return ep, nil, fmt.Errorf("unable to load known hosts: %w", err)
		}
	} else {
		logger.Warn("ssh host key not verified", zap.String("ssh_host", ep.SSHHost))
	}

	sshConfig := &ssh.ClientConfig{
		User:            ep.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}

	sshAddr := net.JoinHostPort(ep.SSHHost, strconv.Itoa(ep.SSHPort))
	sshClient, err := ssh.Dial("tcp", sshAddr, sshConfig)
	if err != nil {
		return ep, nil, fmt.Errorf("unable to connect to SSH server: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sshClient.Close()
		return ep, nil, fmt.Errorf("unable to setup local listener: %w", err)
	}

	remoteAddr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	go func() {
		for {
			localConn, err := listener.Accept()
			if err != nil {
				logger.Debug("tunnel listener closed", zap.Error(err))
				return
			}

			remoteConn, err := sshClient.Dial("tcp", remoteAddr)
			if err != nil {
				logger.Error("error dialing remote server", zap.String("addr", remoteAddr), zap.Error(err))
				localConn.Close()
				continue
			}

			go copyConn(logger, localConn, remoteConn)
			go copyConn(logger, remoteConn, localConn)
		}
	}()

	local := ep
	local.Host = "127.0.0.1"
	local.Port = listener.Addr().(*net.TCPAddr).Port
	local.SSHKey = ""

	cleanup := func() {
		listener.Close()
		sshClient.Close()
	}

	return local, cleanup, nil
}

func copyConn(logger *zap.Logger, dst, src net.Conn) {
	defer dst.Close()
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		logger.Debug("tunnel copy ended", zap.Error(err))
	}
}
