package ansible

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/netlab-ci/cmltest/pkg/lab"
	"github.com/netlab-ci/cmltest/pkg/util"
)

// DefaultCommand is the playbook runner looked up on PATH.
const DefaultCommand = "ansible-playbook"

// File names inside a project directory.
const (
	InventoryFile          = "inventory.json"
	PlaybookFile           = "site.json"
	ExtraVarsFile          = "extra_vars.json"
	LogFile                = "ansible.log"
	PlaybookArtifactFile   = "playbook-artifact.json"
	CollectionDocCacheFile = "collection_doc_cache.db"
)

// Project is a generated ansible project for one role.
type Project struct {
	Directory          string
	Inventory          string
	Playbook           string
	Role               string
	LogFile            string
	PlaybookArtifact   string
	CollectionDocCache string

	// Command defaults to DefaultCommand.
	Command string
}

// WriteProject writes an inventory for conn and a playbook running role
// into dir, which must exist.
func WriteProject(dir string, conn *lab.Connection, role string) (*Project, error) {
	p := &Project{
		Directory:          dir,
		Inventory:          filepath.Join(dir, InventoryFile),
		Playbook:           filepath.Join(dir, PlaybookFile),
		Role:               role,
		LogFile:            filepath.Join(dir, LogFile),
		PlaybookArtifact:   filepath.Join(dir, PlaybookArtifactFile),
		CollectionDocCache: filepath.Join(dir, CollectionDocCacheFile),
	}
	if err := writeJSON(p.Inventory, NewInventory(conn)); err != nil {
		return nil, err
	}
	if err := writeJSON(p.Playbook, Playbook(role)); err != nil {
		return nil, err
	}
	util.WithField("role", role).Debugf("inventory path: %s, playbook path: %s", p.Inventory, p.Playbook)
	return p, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("ansible: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("ansible: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RunOptions control one playbook run.
type RunOptions struct {
	// Env is the full child environment; nil means Environment(os.Environ()).
	Env []string
	// ExtraVars are written to the project and passed with --extra-vars.
	ExtraVars interface{}
	Stdout    io.Writer
	Stderr    io.Writer
}

// Cmd builds the ansible-playbook invocation without starting it.
func (p *Project) Cmd(ctx context.Context, opts RunOptions) (*exec.Cmd, error) {
	args := []string{"-i", p.Inventory}
	if opts.ExtraVars != nil {
		path := filepath.Join(p.Directory, ExtraVarsFile)
		if err := writeJSON(path, opts.ExtraVars); err != nil {
			return nil, err
		}
		args = append(args, "--extra-vars", "@"+path)
	}
	args = append(args, p.Playbook)

	name := p.Command
	if name == "" {
		name = DefaultCommand
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = p.Directory

	env := opts.Env
	if env == nil {
		env = Environment(os.Environ())
	}
	cmd.Env = append(append([]string(nil), env...),
		"ANSIBLE_LOG_PATH="+p.LogFile,
		"ANSIBLE_NAVIGATOR_PLAYBOOK_ARTIFACT_SAVE_AS="+p.PlaybookArtifact,
		"ANSIBLE_NAVIGATOR_COLLECTION_DOC_CACHE_PATH="+p.CollectionDocCache,
	)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	return cmd, nil
}

// Run runs the playbook and waits for it. A non-zero exit is an error.
func (p *Project) Run(ctx context.Context, opts RunOptions) error {
	cmd, err := p.Cmd(ctx, opts)
	if err != nil {
		return err
	}
	util.WithField("role", p.Role).Infof("running %s", cmd.String())
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ansible: role %s: %w (log: %s)", filepath.Base(p.Role), err, p.LogFile)
	}
	return nil
}
