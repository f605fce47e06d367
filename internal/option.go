package internal

import "github.com/nken-eccs/gitrefer/internal/remotetree"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	tree   remotetree.Tree
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithTree overrides the remote tree backend, bypassing the GitHub
// client construction. Used by tests and the dry-run mode.
func WithTree(tree remotetree.Tree) Option {
	return func(a *application) {
		a.tree = tree
	}
}
