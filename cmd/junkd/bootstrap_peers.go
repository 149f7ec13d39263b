package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/desertwitch/junknas/internal/config"
)

// runBootstrapPeers dispatches the bootstrap-peers command group
// against the config store at configPath.
func runBootstrapPeers(configPath string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: bootstrap-peers needs a subcommand (list|add|delete|edit)", errUsage)
	}

	store := config.New(nil)
	if err := store.Init(configPath); err != nil {
		return fmt.Errorf("config init error: %w", err)
	}

	switch args[0] {
	case "list":
		if len(args) != 1 {
			return fmt.Errorf("%w: list takes no arguments", errUsage)
		}

		for i, ep := range store.BootstrapPeers() {
			fmt.Fprintf(os.Stdout, "%d: %s\n", i, ep)
		}

		return nil

	case "add":
		if len(args) != 2 {
			return fmt.Errorf("%w: add needs <ip:port>", errUsage)
		}
		if err := validEndpoint(args[1]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}

		return store.AddBootstrapPeer(args[1])

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("%w: delete needs <index>", errUsage)
		}

		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: index must be numeric", errUsage)
		}

		return store.DeleteBootstrapPeer(idx)

	case "edit":
		if len(args) != 3 {
			return fmt.Errorf("%w: edit needs <index> <ip:port>", errUsage)
		}

		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: index must be numeric", errUsage)
		}
		if err := validEndpoint(args[2]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}

		return store.EditBootstrapPeer(idx, args[2])

	default:
		return fmt.Errorf("%w: unknown subcommand %q", errUsage, args[0])
	}
}

func validEndpoint(ep string) error {
	host, port, err := net.SplitHostPort(ep)
	if err != nil {
		return fmt.Errorf("endpoint %q is not host:port", ep)
	}
	if host == "" {
		return fmt.Errorf("endpoint %q has an empty host", ep)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("endpoint %q has an invalid port", ep)
	}

	return nil
}
