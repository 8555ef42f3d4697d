package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/helm-gateway/pkg/config"
	"github.com/Mindburn-Labs/helm-gateway/pkg/interactions"
)

// tokenFlags are shared by sign, verify and callback-url.
type tokenFlags struct {
	account      string
	accountsFile string
	botToken     string
	context      string
	jsonOutput   bool
}

func (f *tokenFlags) register(cmd *flag.FlagSet, withContext bool) {
	cfg := config.Load()
	cmd.StringVar(&f.account, "account", "", "Account id (REQUIRED)")
	cmd.StringVar(&f.accountsFile, "accounts", cfg.AccountsFile, "Path to the accounts file")
	cmd.StringVar(&f.botToken, "bot-token", "", "Bot token; overrides the accounts file")
	if withContext {
		cmd.StringVar(&f.context, "context", "", "Context JSON object, or - for stdin (REQUIRED)")
		cmd.BoolVar(&f.jsonOutput, "json", false, "Output result as JSON")
	}
}

// resolve returns the account's settings. An explicit --bot-token works
// without an accounts file.
func (f *tokenFlags) resolve() (config.AccountConfig, error) {
	if f.account == "" {
		return config.AccountConfig{}, errors.New("--account is required")
	}
	acct := config.AccountConfig{ID: f.account}

	file, err := config.LoadAccounts(f.accountsFile)
	switch {
	case err == nil:
		if a, ok := file.Account(f.account); ok {
			acct = a
		} else if f.botToken == "" {
			return acct, fmt.Errorf("account %q not found in %s", f.account, f.accountsFile)
		}
	case f.botToken == "":
		return acct, err
	}

	if f.botToken != "" {
		acct.BotToken, acct.BotTokenEnv = f.botToken, ""
	}
	return acct, nil
}

// codec builds a one-shot codec. Only deterministic secrets are useful here:
// a random one would never match the daemon's.
func (f *tokenFlags) codec() (*interactions.Codec, error) {
	acct, err := f.resolve()
	if err != nil {
		return nil, err
	}
	cred := acct.Credential()
	if cred == "" {
		return nil, fmt.Errorf("account %q has no bot token; tokens would not match the server", acct.ID)
	}
	secrets := interactions.NewSecretManager()
	if err := secrets.Initialize(acct.ID, cred); err != nil {
		return nil, err
	}
	return interactions.NewCodec(secrets), nil
}

func (f *tokenFlags) readContext(stdin io.Reader) (map[string]any, error) {
	raw := []byte(f.context)
	switch f.context {
	case "":
		return nil, errors.New("--context is required")
	case "-":
		data, err := io.ReadAll(io.LimitReader(stdin, interactions.MaxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = data
	}
	var ctx map[string]any
	if err := json.Unmarshal(raw, &ctx); err != nil || ctx == nil {
		return nil, fmt.Errorf("context must be a JSON object")
	}
	return ctx, nil
}

var stdin io.Reader = os.Stdin

func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var f tokenFlags
	f.register(cmd, true)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, err := f.readContext(stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	codec, err := f.codec()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	signed, err := codec.SignContext(f.account, ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if !f.jsonOutput {
		_, _ = fmt.Fprintln(stdout, signed[interactions.TokenKey])
		return 0
	}
	data, _ := json.Marshal(signed)
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var f tokenFlags
	f.register(cmd, true)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, err := f.readContext(stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	codec, err := f.codec()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	token, _ := ctx[interactions.TokenKey].(string)
	valid := token != "" && codec.Verify(f.account, ctx, token)

	if f.jsonOutput {
		data, _ := json.Marshal(map[string]any{"account": f.account, "valid": valid})
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if valid {
		_, _ = fmt.Fprintln(stdout, "VALID")
	} else {
		_, _ = fmt.Fprintln(stdout, "INVALID")
	}
	if !valid {
		return 1
	}
	return 0
}

func runCallbackURLCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("callback-url", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var f tokenFlags
	f.register(cmd, false)
	port := cmd.Int("port", config.Load().Port, "Gateway port for the localhost fallback")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if f.account == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --account is required")
		return 2
	}
	// The URL does not depend on the token; a missing accounts file just
	// means the fallback applies.
	acct := config.AccountConfig{ID: f.account}
	if file, err := config.LoadAccounts(f.accountsFile); err == nil {
		if a, ok := file.Account(f.account); ok {
			acct = a
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	registry := interactions.NewRegistry()
	if acct.CallbackURL != "" {
		if err := registry.Register(acct.ID, acct.CallbackURL); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	_, _ = fmt.Fprintln(stdout, registry.Resolve(acct.ID, interactions.Fallback{Port: *port}))
	return 0
}
