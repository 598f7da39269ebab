package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"synbridge/cmd"
	"synbridge/pkg/companion"
	"synbridge/pkg/models"
)

const help = `commands:
  <Type> [json parameters]   issue a command, e.g. SetPosition {"object":"Player","x":1}
  peers                      list connected hosts
  help                       show this help
  quit                       exit`

// parseLine 解析 "Type {json}" 格式的命令输入
func parseLine(line string) (models.Command, error) {
	typ, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd := models.Command{Type: typ}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return cmd, nil
	}
	if err := json.Unmarshal([]byte(rest), &cmd.Parameters); err != nil {
		return models.Command{}, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return cmd, nil
}

func repl(ctx context.Context, in io.Reader, out io.Writer, srv *companion.Server) error {
	fmt.Fprintln(out, "companion ready; type 'help' for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "help":
			fmt.Fprintln(out, help)
			continue
		case "peers":
			for _, id := range srv.Peers() {
				fmt.Fprintln(out, id)
			}
			continue
		case "quit", "exit":
			return nil
		}

		command, err := parseLine(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		issueCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		res, err := srv.Issue(issueCtx, command)
		cancel()
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		_ = cmd.PrintJSON(out, res)
	}
}
