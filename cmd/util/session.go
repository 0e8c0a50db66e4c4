package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ValentinKolb/kvx/lib/acl"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/replog"
	"github.com/ValentinKolb/kvx/lib/resp"
	"github.com/ValentinKolb/kvx/lib/value"
)

// Session runs command lines against a host and writes the replies to out.
// Besides the module commands it understands SELECT, HELLO and AUTH to change the invocation
// context, and the dot commands listed by .help.
type Session struct {
	host *Host
	out  io.Writer
	ictx module.Context
	user string
	raw  bool
	errs int
}

// NewSession creates a session using protocol 2, database 0 and the default user.
func NewSession(h *Host, out io.Writer) *Session {
	return &Session{
		host: h,
		out:  out,
		ictx: module.Context{Protocol: 2},
		user: acl.DefaultUser,
	}
}

// SetRaw switches between RESP output and human readable output.
func (s *Session) SetRaw(raw bool) { s.raw = raw }

// Context returns the invocation context of the session.
func (s *Session) Context() module.Context { return s.ictx }

// User returns the user commands are run as.
func (s *Session) User() string { return s.user }

// Errors returns the number of commands that failed.
func (s *Session) Errors() int { return s.errs }

// Prompt returns the shell prompt, e.g. "kvx[1]> ".
func (s *Session) Prompt() string {
	if s.ictx.Database == 0 {
		return "kvx> "
	}
	return fmt.Sprintf("kvx[%d]> ", s.ictx.Database)
}

// ExecLine splits a line into tokens and runs it. It returns false once the session should end.
func (s *Session) ExecLine(ctx context.Context, line string) bool {
	tokens, err := SplitArgs(line)
	if err != nil {
		s.writeError(err)
		return true
	}
	if len(tokens) == 0 {
		return true
	}
	return s.Exec(ctx, tokens)
}

// Exec runs one command. It returns false once the session should end.
func (s *Session) Exec(ctx context.Context, tokens []string) bool {
	name := strings.ToLower(tokens[0])
	if strings.HasPrefix(name, ".") {
		return s.execDot(ctx, name, tokens[1:])
	}

	switch name {
	case "select":
		s.execSelect(tokens)
	case "hello":
		s.execHello(tokens)
	case "auth":
		s.execAuth(tokens)
	default:
		res, err := s.host.Execute(acl.WithUser(ctx, s.user), s.ictx, tokens)
		if err != nil {
			s.writeError(err)
		} else {
			s.writeValue(res)
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Context Commands
// --------------------------------------------------------------------------

// Select changes the database of the session.
func (s *Session) Select(database uint64) error {
	if limit := s.host.Config.MaxDatabases; limit > 0 && database >= limit {
		return errors.New("DB index is out of range")
	}
	s.ictx.Database = database
	return nil
}

// SetProtocol changes the protocol version of the replies.
func (s *Session) SetProtocol(protocol int) error {
	if err := (module.Context{Protocol: protocol}).Validate(); err != nil {
		return errors.New("NOPROTO unsupported protocol version")
	}
	s.ictx.Protocol = protocol
	return nil
}

// Auth runs the following commands as the named user.
func (s *Session) Auth(name string) error {
	u, ok := s.host.ACL.User(name)
	if !ok || u.Disabled {
		return errors.New("WRONGPASS invalid username or user is disabled")
	}
	s.user = u.Name
	return nil
}

func (s *Session) execSelect(tokens []string) {
	if len(tokens) != 2 {
		s.writeError(module.WrongArgs("select"))
		return
	}
	database, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		s.writeError(fmt.Errorf("invalid database index %q", tokens[1]))
		return
	}
	s.writeResult(value.String("OK"), s.Select(database))
}

func (s *Session) execHello(tokens []string) {
	if len(tokens) > 2 {
		s.writeError(module.WrongArgs("hello"))
		return
	}
	if len(tokens) == 2 {
		protocol, err := strconv.Atoi(tokens[1])
		if err != nil {
			protocol = 0
		}
		if err := s.SetProtocol(protocol); err != nil {
			s.writeError(err)
			return
		}
	}
	info, _ := value.Of(map[string]value.Value{
		"server": value.String("kvx"),
		"proto":  value.Number(s.ictx.Protocol),
		"db":     value.Number(s.ictx.Database),
		"user":   value.String(s.user),
	})
	s.writeValue(info)
}

func (s *Session) execAuth(tokens []string) {
	if len(tokens) != 2 {
		s.writeError(module.WrongArgs("auth"))
		return
	}
	s.writeResult(value.String("OK"), s.Auth(tokens[1]))
}

// --------------------------------------------------------------------------
// Dot Commands
// --------------------------------------------------------------------------

const sessionHelp = `.help              show this help
.modules           list the loaded modules and their commands
.metrics           print invocation and lock metrics (Prometheus text format)
.info [db]         show information about a database (default: the selected one)
.log               show the state of the replication log
.raw on|off        switch between RESP and human readable output
.quit              leave the shell
SELECT <db>        change the database
HELLO [2|3]        change the protocol version
AUTH <user>        run commands as another user`

func (s *Session) execDot(ctx context.Context, name string, args []string) bool {
	switch name {
	case ".quit", ".exit":
		return false
	case ".help":
		fmt.Fprintln(s.out, sessionHelp)
	case ".modules":
		PrintModules(s.out, s.host.Registry)
	case ".metrics":
		s.host.WriteMetrics(s.out)
	case ".info":
		database := s.ictx.Database
		if len(args) > 0 {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				s.writeError(fmt.Errorf("invalid database index %q", args[0]))
				return true
			}
			database = n
		}
		info, err := s.host.Store.GetDBInfo(database)
		if err != nil {
			s.writeError(err)
			return true
		}
		fmt.Fprintf(s.out, "db:       %d\nkeys:     %d\ntype:     %s\nfeatures: %v\nmetadata: %v\n",
			database, info.Keys, info.DbType, info.SupportedFeatures, info.Metadata)
	case ".log":
		switch l := s.host.Log.(type) {
		case *replog.MemLog:
			fmt.Fprintf(s.out, "in-memory log: %d entries\n", l.Len())
		case *replog.RaftLog:
			idx, err := s.host.AppliedIndex(ctx)
			if err != nil {
				s.writeError(err)
				return true
			}
			fmt.Fprintf(s.out, "raft shard %d: applied index %d\n", s.host.Config.ShardID, idx)
		default:
			fmt.Fprintln(s.out, "replication disabled")
		}
	case ".raw":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			s.writeError(module.WrongArgs(".raw"))
			return true
		}
		s.raw = args[0] == "on"
	default:
		s.writeError(fmt.Errorf("unknown shell command %s (see .help)", name))
	}
	return true
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

func (s *Session) writeResult(v value.Value, err error) {
	if err != nil {
		s.writeError(err)
		return
	}
	s.writeValue(v)
}

func (s *Session) writeValue(v value.Value) {
	if s.raw {
		data, err := resp.Encode(v, s.ictx.Protocol)
		if err != nil {
			s.writeError(err)
			return
		}
		_, _ = s.out.Write(data)
		return
	}
	fmt.Fprintln(s.out, FormatValue(v))
}

func (s *Session) writeError(err error) {
	s.errs++
	if s.raw {
		_, _ = s.out.Write(resp.EncodeError(err))
		return
	}
	reply := strings.TrimSuffix(strings.TrimPrefix(string(resp.EncodeError(err)), "-"), "\r\n")
	fmt.Fprintf(s.out, "(error) %s\n", reply)
}

// PrintModules lists the loaded modules with their commands.
func PrintModules(w io.Writer, reg *module.Registry) {
	for _, name := range reg.Modules() {
		fmt.Fprintf(w, "%s\n", name)
		commands, _ := reg.ModuleCommands(name)
		for _, c := range commands {
			d, ok := reg.Lookup(c)
			if !ok {
				continue
			}
			replicate := ""
			if d.Replicate {
				replicate = " (replicated)"
			}
			fmt.Fprintf(w, "  %-10s @%s%s\n", d.Name, strings.Join(d.Categories, " @"), replicate)
			if d.Description != "" {
				fmt.Fprintf(w, "             %s\n", strings.ReplaceAll(WrapString(d.Description), "\n", "\n             "))
			}
		}
	}
}
