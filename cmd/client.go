package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-echo-poll/deps/linenoise"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

const (
	CliHisFileEnv     = "ECHOPOLL_CLI_HISTFILE"
	CliHisFileDefault = ".echopoll_history"

	defaultDialTimeout = 3 * time.Second
	defaultIOTimeout   = 5 * time.Second
)

// EchoClient is a blocking client for the echo server.
type EchoClient struct {
	addr      string
	conn      net.Conn
	ioTimeout time.Duration
}

func NewEchoClient(addr string) *EchoClient {
	return &EchoClient{addr: addr, ioTimeout: defaultIOTimeout}
}

// Connect dials the server; an existing connection is replaced.
func (c *EchoClient) Connect() error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, defaultDialTimeout)
	if err != nil {
		return errors.Wrapf(err, "connect %s", c.addr)
	}
	c.conn = conn
	return nil
}

// RoundTrip sends payload and waits until the same number of bytes came back.
func (c *EchoClient) RoundTrip(payload []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("not connected")
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, errors.Wrap(err, "write")
	}
	reply := make([]byte, len(payload))
	if _, err := io.ReadFull(c.conn, reply); err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return reply, nil
}

func (c *EchoClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// repl reads lines from the terminal, sends each one with a trailing
// newline and prints what the server sent back.
func repl(client *EchoClient, out io.Writer) error {
	line := linenoise.New()
	defer line.Close()

	var historyFile string
	if isatty.IsTerminal(os.Stdin.Fd()) {
		historyFile = getDotfilePath(CliHisFileEnv, CliHisFileDefault)
		if historyFile != "" {
			_ = line.HistoryLoad(historyFile)
		}
	}
	saveHistory := func(entry string) {
		line.AppendHistory(entry)
		if historyFile != "" {
			_ = line.HistorySave(historyFile)
		}
	}

	connected := client.Connect() == nil
	for {
		prompt := "not connected> "
		if connected {
			prompt = client.addr + "> "
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			// ctrl-c or ctrl-d
			return nil
		}

		argv := strings.Fields(input)
		if len(argv) == 0 {
			continue
		}
		saveHistory(input)

		switch {
		case strings.EqualFold(argv[0], "quit") || strings.EqualFold(argv[0], "exit"):
			return client.Close()
		case len(argv) == 1 && strings.EqualFold(argv[0], "clear"):
			_ = line.ClearScreen()
		case len(argv) == 3 && strings.EqualFold(argv[0], "connect"):
			if _, err := strconv.Atoi(argv[2]); err != nil {
				fmt.Fprintln(out, "Invalid port number")
				continue
			}
			client.addr = net.JoinHostPort(argv[1], argv[2])
			connected = reconnect(client, out)
		default:
			if !connected {
				connected = reconnect(client, out)
				if !connected {
					continue
				}
			}
			reply, err := client.RoundTrip([]byte(input + "\n"))
			if err != nil {
				fmt.Fprintf(out, "(error) %v\n", err)
				_ = client.Close()
				connected = false
				continue
			}
			fmt.Fprintf(out, "%q\n", strings.TrimSuffix(string(reply), "\n"))
		}
	}
}

func reconnect(client *EchoClient, out io.Writer) bool {
	if err := client.Connect(); err != nil {
		fmt.Fprintf(out, "Could not connect to %s: %v\n", client.addr, err)
		return false
	}
	return true
}

func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = fmt.Sprintf("%s/%s", home, dotFilename)
		}
	}
	return dotPath
}
