// Package sshfront exposes daemon sessions over SSH so plain terminal
// clients can attach without a browser. Authentication is public-key only,
// against an authorized_keys file in the data directory.
package sshfront

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/shellgate/shellgate/internal/ipc"
)

const hostKeyFile = "ssh_host_ed25519_key"
const authorizedKeysFile = "authorized_keys"

// listSessionName is a meta-name: ssh user@host with this username prints
// the session list instead of attaching.
const listSessionName = "_list"

type Server struct {
	daemon   *ipc.Client
	config   *ssh.ServerConfig
	listener net.Listener
}

// New builds an SSH server backed by the daemon client. dataPath holds the
// host key and the authorized_keys file.
func New(daemon *ipc.Client, dataPath string) (*Server, error) {
	authorized, err := loadAuthorizedKeys(filepath.Join(dataPath, authorizedKeysFile))
	if err != nil {
		return nil, err
	}
	if len(authorized) == 0 {
		return nil, fmt.Errorf("no keys in %s", filepath.Join(dataPath, authorizedKeysFile))
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			marshaled := key.Marshal()
			for _, k := range authorized {
				if bytes.Equal(marshaled, k.Marshal()) {
					return &ssh.Permissions{}, nil
				}
			}
			return nil, fmt.Errorf("unknown public key for %s", conn.User())
		},
	}

	hostKey, err := ensureHostKey(filepath.Join(dataPath, hostKeyFile))
	if err != nil {
		return nil, err
	}
	config.AddHostKey(hostKey)

	return &Server{daemon: daemon, config: config}, nil
}

func loadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}

	var keys []ssh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys, nil
}

func ensureHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		return signer, nil
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

// ListenAndServe accepts SSH connections until the listener is closed.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ssh listen: %w", err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	sessionName := sshConn.User()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests, sessionName)
	}
}

type ptyReq struct {
	Term     string
	Cols     uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChangeReq struct {
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, name string) {
	defer channel.Close()

	if name == listSessionName {
		s.printSessionList(channel, requests)
		return
	}

	cols, rows := 80, 24
	started := false
	var att *ipc.Attachment

	detach := func() {
		if att != nil {
			att.Close()
			att = nil
		}
	}
	defer detach()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p ptyReq
			if err := ssh.Unmarshal(req.Payload, &p); err == nil && p.Cols > 0 && p.Rows > 0 {
				cols, rows = int(p.Cols), int(p.Rows)
			}
			req.Reply(true, nil)

		case "shell":
			if started {
				req.Reply(false, nil)
				continue
			}
			started = true

			var err error
			att, err = s.attachOrCreate(name, cols, rows)
			if err != nil {
				fmt.Fprintf(channel.Stderr(), "shellgate: %v\r\n", err)
				req.Reply(false, nil)
				return
			}
			req.Reply(true, nil)

			go s.pump(channel, att)

		case "window-change":
			var wc windowChangeReq
			if err := ssh.Unmarshal(req.Payload, &wc); err == nil && wc.Cols > 0 && wc.Rows > 0 {
				cols, rows = int(wc.Cols), int(wc.Rows)
				if att != nil {
					att.Resize(cols, rows)
				}
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// attachOrCreate joins the named session, creating it first if the daemon
// does not know it.
func (s *Server) attachOrCreate(name string, cols, rows int) (*ipc.Attachment, error) {
	att, err := s.daemon.Attach(name)
	if err == nil {
		att.Resize(cols, rows)
		return att, nil
	}

	if _, cerr := s.daemon.Create(name, cols, rows); cerr != nil {
		return nil, cerr
	}
	return s.daemon.Attach(name)
}

// pump moves bytes between the SSH channel and the daemon attachment until
// either side goes away.
func (s *Server) pump(channel ssh.Channel, att *ipc.Attachment) {
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := channel.Read(buf)
			if n > 0 {
				if werr := att.Input(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case p, ok := <-att.Output():
			if !ok {
				s.sendExit(channel, att)
				return
			}
			if _, err := channel.Write(p); err != nil {
				return
			}
		case <-att.Done():
			// Drain whatever output is already queued.
			for p := range att.Output() {
				channel.Write(p)
			}
			s.sendExit(channel, att)
			return
		}
	}
}

func (s *Server) sendExit(channel ssh.Channel, att *ipc.Attachment) {
	code := 0
	if ec := att.ExitCode(); ec != nil {
		code = *ec
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	channel.SendRequest("exit-status", false, payload)
	channel.CloseWrite()
}

func (s *Server) printSessionList(channel ssh.Channel, requests <-chan *ssh.Request) {
	go func() {
		for req := range requests {
			if req.WantReply {
				req.Reply(req.Type == "pty-req" || req.Type == "shell", nil)
			}
		}
	}()

	list, err := s.daemon.List()
	if err != nil {
		fmt.Fprintf(channel.Stderr(), "shellgate: %v\r\n", err)
		return
	}

	var b strings.Builder
	if len(list) == 0 {
		b.WriteString("no sessions\r\n")
	}
	for _, info := range list {
		state := "dead"
		if info.Alive {
			state = "alive"
		}
		fmt.Fprintf(&b, "%s\t%s\t%dx%d\r\n", info.Name, state, info.Cols, info.Rows)
	}
	if _, err := channel.Write([]byte(b.String())); err != nil {
		log.Printf("SSH list write failed: %v", err)
	}

	payload := make([]byte, 4)
	channel.SendRequest("exit-status", false, payload)
}
