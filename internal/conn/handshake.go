package conn

import (
	"bufio"
	"strconv"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/resp"
)

type handshakeOptions struct {
	Protocol   Protocol
	Username   string
	Password   string
	ClientName string
	DatabaseID int
}

// handshake runs the connection setup sequence in order: HELLO
// (feature-detecting RESP3 vs RESP2 from the server's answer),
// AUTH/CLIENT SETNAME as the RESP2 fallback, SELECT for a configured
// database id.
func handshake(br *bufio.Reader, bw *bufio.Writer, opts handshakeOptions, logger log.Logger) error {
	if opts.Protocol == ProtocolRESP3 {
		if err := hello(br, bw, opts); err == nil {
			return selectDB(br, bw, opts)
		}
		logger.Debugf("HELLO failed, falling back to RESP2 handshake")
	}

	if opts.Password != "" {
		if err := auth(br, bw, opts); err != nil {
			return err
		}
	}
	if opts.ClientName != "" {
		if err := setName(br, bw, opts.ClientName); err != nil {
			return err
		}
	}
	return selectDB(br, bw, opts)
}

func roundTrip(br *bufio.Reader, bw *bufio.Writer, args ...string) (resp.Value, error) {
	if _, err := bw.Write(resp.EncodeStrings(args...)); err != nil {
		return resp.Value{}, errs.Wrap(errs.KindConnection, "handshake write failed", err)
	}
	if err := bw.Flush(); err != nil {
		return resp.Value{}, errs.Wrap(errs.KindConnection, "handshake flush failed", err)
	}
	v, _, err := resp.ReadValue(br)
	if err != nil {
		return resp.Value{}, errs.Wrap(errs.KindConnection, "handshake read failed", err)
	}
	if v.IsError() {
		return resp.Value{}, errs.New(errs.KindRequest, v.Str)
	}
	return v, nil
}

func hello(br *bufio.Reader, bw *bufio.Writer, opts handshakeOptions) error {
	args := []string{"HELLO", "3"}
	if opts.Username != "" || opts.Password != "" {
		args = append(args, "AUTH", opts.Username, opts.Password)
	}
	if opts.ClientName != "" {
		args = append(args, "SETNAME", opts.ClientName)
	}
	_, err := roundTrip(br, bw, args...)
	return err
}

func auth(br *bufio.Reader, bw *bufio.Writer, opts handshakeOptions) error {
	if opts.Username != "" {
		_, err := roundTrip(br, bw, "AUTH", opts.Username, opts.Password)
		return err
	}
	_, err := roundTrip(br, bw, "AUTH", opts.Password)
	return err
}

func setName(br *bufio.Reader, bw *bufio.Writer, name string) error {
	_, err := roundTrip(br, bw, "CLIENT", "SETNAME", name)
	return err
}

func selectDB(br *bufio.Reader, bw *bufio.Writer, opts handshakeOptions) error {
	if opts.DatabaseID == 0 {
		return nil
	}
	_, err := roundTrip(br, bw, "SELECT", strconv.Itoa(opts.DatabaseID))
	return err
}
