package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/transport/ws"
)

// client sends one request and prints the response frame. Each positional
// argument after the message name is one parameter, read as the type the
// message declares at that position. Unknown messages and extra arguments
// fall back to a JSON literal, then a plain string. The "Request" suffix
// may be omitted.
//
//	client -token $TOK transferPoptabs 76561198000000001 250
func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		token   = flag.String("token", os.Getenv("ESM_TOKEN"), "session token (defaults to ESM_TOKEN)")
		timeout = flag.Duration("timeout", 10*time.Second, "overall timeout")
		repeat  = flag.Int("n", 1, "send the request n times")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)
	if flag.NArg() < 1 {
		logger.Fatalf("usage: client [-url URL] [-token TOKEN] <message> [params...]")
	}
	name, params := buildRequest(schema.Default(), flag.Arg(0), flag.Args()[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c, err := ws.Dial(ctx, *url, *token)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	logger.Printf("WELCOME session=%s server=%s uid=%s", c.Welcome.SessionID, c.Welcome.ServerID, c.Welcome.PlayerUID)

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	failed := false
	for i := 0; i < *repeat; i++ {
		resp, err := c.Call(ctx, name, params...)
		if err != nil {
			logger.Fatalf("call: %v", err)
		}
		_ = enc.Encode(resp)
		if resp.Code != protocol.CodeOK {
			logger.Printf("%s: %s", resp.Name, resp.Code)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// buildRequest resolves name against reg and converts args by the declared
// parameter types.
func buildRequest(reg *schema.Registry, name string, args []string) (string, []protocol.Value) {
	m, ok := reg.Lookup(name)
	if !ok {
		if alt, found := reg.Lookup(name + "Request"); found {
			m, ok, name = alt, true, alt.Name
		}
	}
	var types []protocol.ParamType
	if ok {
		types = m.Types()
	}
	params := make([]protocol.Value, 0, len(args))
	for i, arg := range args {
		if i < len(types) {
			params = append(params, typedParam(types[i], arg))
			continue
		}
		params = append(params, parseParam(arg))
	}
	return name, params
}

// typedParam reads arg as t. A value that does not parse as t is passed on
// with its JSON kind so the server reports the mismatch.
func typedParam(t protocol.ParamType, arg string) protocol.Value {
	arg = strings.TrimSpace(arg)
	switch t {
	case protocol.ParamString:
		if s, err := strconv.Unquote(arg); err == nil && strings.HasPrefix(arg, `"`) {
			return protocol.String(s)
		}
		return protocol.String(arg)
	case protocol.ParamScalar:
		if f, err := strconv.ParseFloat(arg, 64); err == nil {
			return protocol.Scalar(f)
		}
	case protocol.ParamBool:
		if b, err := strconv.ParseBool(arg); err == nil {
			return protocol.Bool(b)
		}
	case protocol.ParamObject:
		if !strings.HasPrefix(arg, "{") {
			return protocol.Object(arg)
		}
	}
	return parseParam(arg)
}

func parseParam(arg string) protocol.Value {
	var raw any
	if err := json.Unmarshal([]byte(arg), &raw); err == nil && raw != nil {
		return protocol.FromJSON(raw)
	}
	return protocol.String(strings.TrimSpace(arg))
}
