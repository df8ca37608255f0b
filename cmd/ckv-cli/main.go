// Command ckv-cli is a small exercise harness for pkg/ckv: parse
// flags, build one Client, run one command, print the reply, exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/nodekv/ckv/pkg/ckv"
)

var (
	addrsFlag   = flag.String("addrs", "localhost:6379", "Comma-separated `host:port` seed list.")
	clusterFlag = flag.Bool("cluster", false, "Treat the seed list as a cluster and discover topology.")
	replicaFlag = flag.Bool("prefer-replica", false, "Read from replicas when the topology allows it.")
	timeoutFlag = flag.Duration("timeout", ckv.DefaultRequestTimeout, "Per-request `timeout`.")
	userFlag    = flag.String("user", "", "AUTH username.")
	passFlag    = flag.String("pass", "", "AUTH password.")
	debugFlag   = flag.Bool("debug", false, "Dump the parsed command before sending it.")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg := ckv.Config{
		Addresses:      parseAddrs(*addrsFlag),
		ClusterMode:    *clusterFlag,
		RequestTimeout: *timeoutFlag,
		Credentials:    ckv.Credentials{Username: *userFlag, Password: *passFlag},
	}
	if *replicaFlag {
		cfg.ReadFromStrategy = ckv.PreferReplica
	}

	client, err := ckv.NewClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ckv-cli: connect:", err)
		os.Exit(2)
	}
	defer client.Close()

	cmd, err := buildCommand(args[0], args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ckv-cli:", err)
		os.Exit(1)
	}
	if *debugFlag {
		spew.Fdump(os.Stderr, cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	reply, err := client.Do(ctx, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ckv-cli:", err)
		os.Exit(3)
	}
	printReply(reply)
}

func usage() {
	os.Stderr.WriteString(`NAME
	ckv-cli — run one command against a standalone server or cluster

SYNOPSIS
	ckv-cli [ options ] command [ arg ... ]

DESCRIPTION
	Supported commands: GET key, SET key value, DEL key [key...],
	INCR key, EXISTS key [key...], EXPIRE key seconds, PING,
	HSET key field value, HGET key field.

	The following options are available:

`)
	flag.PrintDefaults()
}

func parseAddrs(raw string) []ckv.Address {
	parts := strings.Split(raw, ",")
	out := make([]ckv.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		host, portStr, err := splitHostPort(p)
		if err != nil {
			out = append(out, ckv.Address{Host: p})
			continue
		}
		port, _ := strconv.Atoi(portStr)
		out = append(out, ckv.Address{Host: host, Port: port})
	}
	return out
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "", fmt.Errorf("no port in %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

func buildCommand(name string, args []string) (ckv.Command, error) {
	switch strings.ToUpper(name) {
	case "GET":
		if len(args) != 1 {
			return ckv.Command{}, fmt.Errorf("GET requires exactly one key")
		}
		return ckv.Get(args[0]), nil
	case "SET":
		if len(args) != 2 {
			return ckv.Command{}, fmt.Errorf("SET requires a key and a value")
		}
		return ckv.Set(args[0], args[1]), nil
	case "DEL":
		if len(args) < 1 {
			return ckv.Command{}, fmt.Errorf("DEL requires at least one key")
		}
		return ckv.Del(args...), nil
	case "INCR":
		if len(args) != 1 {
			return ckv.Command{}, fmt.Errorf("INCR requires exactly one key")
		}
		return ckv.Incr(args[0]), nil
	case "EXISTS":
		if len(args) < 1 {
			return ckv.Command{}, fmt.Errorf("EXISTS requires at least one key")
		}
		return ckv.Exists(args...), nil
	case "EXPIRE":
		if len(args) != 2 {
			return ckv.Command{}, fmt.Errorf("EXPIRE requires a key and a seconds value")
		}
		seconds, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return ckv.Command{}, fmt.Errorf("EXPIRE seconds: %w", err)
		}
		return ckv.Expire(args[0], seconds), nil
	case "PING":
		return ckv.Ping(), nil
	case "HSET":
		if len(args) != 3 {
			return ckv.Command{}, fmt.Errorf("HSET requires a key, field, and value")
		}
		return ckv.HSet(args[0], args[1], args[2]), nil
	case "HGET":
		if len(args) != 2 {
			return ckv.Command{}, fmt.Errorf("HGET requires a key and a field")
		}
		return ckv.HGet(args[0], args[1]), nil
	default:
		return ckv.Command{}, fmt.Errorf("unrecognized command %q", name)
	}
}

func printReply(r ckv.Reply) {
	if r.IsNil() {
		fmt.Println("<nil>")
		return
	}
	if r.OK() {
		fmt.Println("OK")
		return
	}
	if s, err := r.Str(); err == nil {
		fmt.Println(strconv.QuoteToGraphic(s))
		return
	}
	if n, err := r.Int(); err == nil {
		fmt.Println(n)
		return
	}
	if arr, err := r.Array(); err == nil {
		elems := make([]string, len(arr))
		for i, e := range arr {
			elems[i] = replyString(e)
		}
		fmt.Println("[" + strings.Join(elems, ", ") + "]")
		return
	}
	fmt.Println("<unrepresentable reply>")
}

func replyString(r ckv.Reply) string {
	if r.IsNil() {
		return "<nil>"
	}
	if s, err := r.Str(); err == nil {
		return strconv.QuoteToGraphic(s)
	}
	if n, err := r.Int(); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return "?"
}
