package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"

	"github.com/gabriel-vasile/mimetype"
)

// Documents applies writer edits to the room snapshot: direct updates,
// uploaded files and files imported from a git repository.
type Documents struct {
	log            *slog.Logger
	registry       *Registry
	router         *Router
	arbiter        *Arbiter
	store          contract.Store
	importer       contract.Importer
	maxUploadBytes int64
}

func NewDocuments(log *slog.Logger, registry *Registry, router *Router, arbiter *Arbiter,
	store contract.Store, importer contract.Importer, maxUploadBytes int64) *Documents {
	return &Documents{
		log:            log,
		registry:       registry,
		router:         router,
		arbiter:        arbiter,
		store:          store,
		importer:       importer,
		maxUploadBytes: maxUploadBytes,
	}
}

func (d *Documents) path(path string) string {
	if path == "" {
		return d.registry.DefaultPath()
	}
	return path
}

// ApplyEdit replaces the content of one path. Edits are accepted from the
// writer only and applied in arrival order under the room lock, so a late
// joiner always sees every accepted edit.
func (d *Documents) ApplyEdit(ctx context.Context, s *Session, cmd domain.CodeUpdateCommand) error {
	value, ok := cmd.Text()
	if !ok {
		return errors.Validationf("code_update requires a value")
	}
	return d.apply(ctx, s, d.path(cmd.Path), value, "edit the document")
}

func (d *Documents) apply(ctx context.Context, s *Session, path, value, action string) error {
	msg := domain.NewSync(path, value, s.User)
	err := d.registry.Update(s.Room, func(room *Room) error {
		if err := d.arbiter.RequireWriter(room, s, action); err != nil {
			return err
		}
		room.setContent(path, value)
		return d.router.deliver(room, msg)
	})
	if err != nil {
		return err
	}
	if err = d.router.Publish(ctx, s.Room, msg); err != nil {
		d.log.Warn("Edit not replicated", "room_id", s.Room, "path", path, "error", err)
	}
	if err = d.store.SetContent(ctx, s.Room, path, value); err != nil {
		d.log.Error("Failed to persist content", "room_id", s.Room, "path", path, "error", err)
	}
	d.arbiter.Refresh(ctx, s)
	return nil
}

// Upload replaces a path with an uploaded text file.
func (d *Documents) Upload(ctx context.Context, s *Session, cmd domain.FileUploadCommand) error {
	if int64(len(cmd.Content)) > d.maxUploadBytes {
		return errors.Validationf("file exceeds %d bytes", d.maxUploadBytes)
	}
	if !isText([]byte(cmd.Content)) {
		return errors.Validationf("only text files can be uploaded, got %s", mimetype.Detect([]byte(cmd.Content)))
	}
	if err := d.apply(ctx, s, d.path(cmd.Path), cmd.Content, "upload files"); err != nil {
		return err
	}
	filename := cmd.Filename
	if filename == "" {
		filename = "uploaded file"
	}
	return d.router.BroadcastGlobal(ctx, s.Room, domain.NewInfo(fmt.Sprintf("%s uploaded '%s'", s.User, filename)))
}

// Import clones a repository and loads one of its files. The writer check
// runs before the clone and again when the content is applied.
func (d *Documents) Import(ctx context.Context, s *Session, cmd domain.GitCloneCommand) error {
	err := d.registry.Update(s.Room, func(room *Room) error {
		return d.arbiter.RequireWriter(room, s, "import from git")
	})
	if err != nil {
		return err
	}
	content, err := d.importer.Fetch(ctx, cmd.RepoURL, cmd.FilePath)
	if err != nil {
		d.log.Warn("Git import failed", "room_id", s.Room, "repo", cmd.RepoURL, "file", cmd.FilePath, "error", err)
		return err
	}
	if !isText([]byte(content)) {
		return errors.Importf("%s is not a text file, got %s", cmd.FilePath, mimetype.Detect([]byte(content)))
	}
	if err = d.apply(ctx, s, d.path(cmd.Path), content, "import from git"); err != nil {
		return err
	}
	return d.router.BroadcastGlobal(ctx, s.Room, domain.NewInfo(fmt.Sprintf("%s loaded '%s' from git", s.User, cmd.FilePath)))
}

// isText walks the detected type hierarchy looking for text/plain.
func isText(content []byte) bool {
	for mtype := mimetype.Detect(content); mtype != nil; mtype = mtype.Parent() {
		if mtype.Is("text/plain") {
			return true
		}
	}
	return false
}
