package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/config"
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/extraction"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
	"github.com/example/fintrack/internal/session"
	"github.com/example/fintrack/internal/store/sqlite"
)

// chat is a local single-user loop over the same completion core the API
// serves. It keeps state in a sqlite file so a conversation survives
// restarts.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	var cfg config.Config
	if loaded, err := config.Load(); err == nil {
		cfg = *loaded
	} else {
		// The chat binary does not need postgres; only the sqlite path and
		// the optional extractor key matter here.
		cfg = config.Config{SQLitePath: "fintrack.db"}
		if v := os.Getenv("SQLITE_PATH"); v != "" {
			cfg.SQLitePath = v
		}
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
		cfg.AnthropicModel = os.Getenv("ANTHROPIC_MODEL")
	}

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", cfg.SQLitePath, err)
		os.Exit(1)
	}
	defer store.Close()

	var extractor completion.Extractor
	if cfg.AnthropicAPIKey != "" {
		extractor = extraction.NewAnthropicExtractor(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		extractor = extraction.NewRuleExtractor()
	}

	resolver := container.NewResolver(store.Containers())
	mutations := mutation.NewService(mutation.DefaultRegistry(), store.Containers(), store.Adjustments(), store)
	handler := completion.NewHandler(
		fact.NewEvaluator(resolver),
		resolver,
		mutations,
		store.Containers(),
		store.Transactions(),
		store.Adjustments(),
		session.NewMemoryStore(),
	)
	conversation := completion.NewConversation(handler, extractor)

	owner := container.Owner{Type: "USER", ID: "local"}
	const sessionID = "local-chat"

	fmt.Println("fintrack chat. Describe a transaction, 'new <type> <name> [opening]' to add a container, 'balances' to list them, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		ctx := context.Background()

		if text == "balances" {
			printBalances(ctx, store.Containers(), owner)
			continue
		}
		if rest, ok := strings.CutPrefix(text, "new "); ok {
			createContainer(ctx, handler, owner, rest)
			continue
		}

		result, err := conversation.HandleMessage(ctx, owner, sessionID, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResult(result)
	}
}

func createContainer(ctx context.Context, handler *completion.Handler, owner container.Owner, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		fmt.Println("usage: new <type> <name> [opening]")
		return
	}
	typ, ok := container.ParseType(fields[0])
	if !ok {
		fmt.Printf("unknown container type %q\n", fields[0])
		return
	}
	opening := decimal.Zero
	name := strings.Join(fields[1:], " ")
	if len(fields) > 2 {
		if v, err := decimal.NewFromString(fields[len(fields)-1]); err == nil {
			opening = v
			name = strings.Join(fields[1:len(fields)-1], " ")
		}
	}

	result, err := handler.CreateContainer(ctx, owner, name, typ, "", nil, opening)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	printResult(result)
}

func printBalances(ctx context.Context, containers container.Repository, owner container.Owner) {
	list, err := containers.FindActiveByOwner(ctx, owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(list) == 0 {
		fmt.Println("no containers yet; add one with 'new <type> <name> [opening]'")
		return
	}
	for _, c := range list {
		line := fmt.Sprintf("%-12s %-20s %s", c.Type, c.Name, c.CurrentValue.String())
		if c.Unit != "" {
			line += " " + c.Unit
		}
		if c.OverLimit {
			line += fmt.Sprintf(" (over limit by %s)", c.OverLimitAmt.String())
		}
		fmt.Println(line)
	}
}

func printResult(r completion.Result) {
	switch r.Kind {
	case completion.KindInvalid:
		fmt.Printf("Could not record that: %s\n", r.Reason)
	case completion.KindFollowup:
		fmt.Println(r.Question)
	case completion.KindSaved:
		switch {
		case r.Transaction != nil:
			status := "recorded"
			if r.Transaction.FinanciallyApplied {
				status = "recorded and applied"
			}
			fmt.Printf("%s: %s %s for %s\n", status, r.Transaction.Type, r.Transaction.Amount.String(), r.Transaction.Category)
		case r.Container != nil:
			fmt.Printf("created container %q (%s)\n", r.Container.Name, r.Container.Type)
		}
	case completion.KindInfo:
		fmt.Println(r.Message)
	}
}
