package runtime

import (
	"context"
	"strings"
	"testing"

	"join-code/domain"
	"join-code/errors"

	"github.com/stretchr/testify/require"
)

func TestDocuments_Writer_Edit_Reaches_Everyone(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	n := newLocalNode(domain.ModeAdvisory)
	alice, aliceRec := n.join(t, "room-1", "alice")
	_, bobRec := n.join(t, "room-1", "bob")

	req.NoError(n.documents.ApplyEdit(ctx, alice, domain.CodeUpdateCommand{Path: "util.py", Value: ptr("def f(): pass")}))

	for _, rec := range []*recorder{aliceRec, bobRec} {
		sync := rec.last(domain.TypeSync)
		req.Equal("util.py", sync["path"])
		req.Equal("def f(): pass", sync["value"])
		req.Equal("alice", sync["editor"])
	}
	files, err := n.store.GetContent(ctx, "room-1")
	req.NoError(err)
	req.Equal("def f(): pass", files["util.py"])
}

func TestDocuments_Legacy_Content_Targets_Default_Path(t *testing.T) {
	req := require.New(t)
	n := newLocalNode(domain.ModeAdvisory)
	alice, _ := n.join(t, "room-1", "alice")

	req.NoError(n.documents.ApplyEdit(context.Background(), alice, domain.CodeUpdateCommand{Content: ptr("print(1)")}))

	room, _ := n.registry.Lookup("room-1")
	req.Equal("print(1)", room.Files()["main.py"])
}

func TestDocuments_Non_Writer_Edit_Is_Rejected(t *testing.T) {
	req := require.New(t)
	n := newLocalNode(domain.ModeAdvisory)
	n.join(t, "room-1", "alice")
	bob, bobRec := n.join(t, "room-1", "bob")
	bobRec.reset()

	err := n.documents.ApplyEdit(context.Background(), bob, domain.CodeUpdateCommand{Path: "main.py", Value: ptr("hijack")})

	req.ErrorIs(err, errors.ErrPermission)
	req.Zero(bobRec.count(domain.TypeSync))
	room, _ := n.registry.Lookup("room-1")
	req.Equal("", room.Files()["main.py"])
}

func TestDocuments_Strict_Edit_Without_Lock(t *testing.T) {
	req := require.New(t)
	n := newLocalNode(domain.ModeStrict)
	alice, _ := n.join(t, "room-1", "alice")

	err := n.documents.ApplyEdit(context.Background(), alice, domain.CodeUpdateCommand{Value: ptr("x")})
	req.ErrorIs(err, errors.ErrPermission)

	req.NoError(n.arbiter.RequestLock(context.Background(), alice))
	req.NoError(n.documents.ApplyEdit(context.Background(), alice, domain.CodeUpdateCommand{Value: ptr("x")}))
}

func TestDocuments_Edit_Without_Value(t *testing.T) {
	req := require.New(t)
	n := newLocalNode(domain.ModeAdvisory)
	alice, _ := n.join(t, "room-1", "alice")

	err := n.documents.ApplyEdit(context.Background(), alice, domain.CodeUpdateCommand{Path: "main.py"})

	req.ErrorIs(err, errors.ErrValidation)
}

func TestDocuments_Empty_Value_Clears_File(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	n := newLocalNode(domain.ModeAdvisory)
	alice, _ := n.join(t, "room-1", "alice")
	req.NoError(n.documents.ApplyEdit(ctx, alice, domain.CodeUpdateCommand{Value: ptr("x=1")}))

	req.NoError(n.documents.ApplyEdit(ctx, alice, domain.CodeUpdateCommand{Value: ptr("")}))

	room, _ := n.registry.Lookup("room-1")
	content, ok := room.Files()["main.py"]
	req.True(ok)
	req.Empty(content)
}

func TestDocuments_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("text file replaces the path and is announced", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		alice, _ := n.join(t, "room-1", "alice")
		_, bobRec := n.join(t, "room-1", "bob")

		req.NoError(n.documents.Upload(ctx, alice, domain.FileUploadCommand{Filename: "a.py", Path: "a.py", Content: "a = 1\n"}))

		req.Equal("a = 1\n", bobRec.last(domain.TypeSync)["value"])
		req.Contains(bobRec.last(domain.TypeInfo)["message"], "a.py")
	})

	t.Run("too large", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		alice, _ := n.join(t, "room-1", "alice")

		err := n.documents.Upload(ctx, alice, domain.FileUploadCommand{Content: strings.Repeat("a", 1025)})

		req.ErrorIs(err, errors.ErrValidation)
	})

	t.Run("binary content", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		alice, rec := n.join(t, "room-1", "alice")

		err := n.documents.Upload(ctx, alice, domain.FileUploadCommand{Content: "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"})

		req.ErrorIs(err, errors.ErrValidation)
		req.Zero(rec.count(domain.TypeSync))
	})

	t.Run("non writer", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		n.join(t, "room-1", "alice")
		bob, _ := n.join(t, "room-1", "bob")

		err := n.documents.Upload(ctx, bob, domain.FileUploadCommand{Content: "x"})

		req.ErrorIs(err, errors.ErrPermission)
	})
}

func TestDocuments_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("fetched file is applied", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		alice, rec := n.join(t, "room-1", "alice")

		req.NoError(n.documents.Import(ctx, alice, domain.GitCloneCommand{RepoURL: "https://example.com/r.git", FilePath: "src/app.py"}))

		req.Equal("imported", rec.last(domain.TypeSync)["value"])
		req.Contains(rec.last(domain.TypeInfo)["message"], "src/app.py")
	})

	t.Run("fetch failure leaves the document alone", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		n.documents.importer = fakeImporter{err: errors.Importf("file %s not found", "nope.py")}
		alice, rec := n.join(t, "room-1", "alice")

		err := n.documents.Import(ctx, alice, domain.GitCloneCommand{RepoURL: "https://example.com/r.git", FilePath: "nope.py"})

		req.ErrorIs(err, errors.ErrImport)
		req.Zero(rec.count(domain.TypeSync))
	})

	t.Run("binary file is refused", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		n.documents.importer = fakeImporter{content: "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"}
		alice, rec := n.join(t, "room-1", "alice")

		err := n.documents.Import(ctx, alice, domain.GitCloneCommand{RepoURL: "https://example.com/r.git", FilePath: "logo.png"})

		req.ErrorIs(err, errors.ErrImport)
		req.Zero(rec.count(domain.TypeSync))
		room, _ := n.registry.Lookup("room-1")
		req.Equal("", room.Files()["main.py"])
	})

	t.Run("non writer never reaches the importer", func(t *testing.T) {
		req := require.New(t)
		n := newLocalNode(domain.ModeAdvisory)
		n.documents.importer = fakeImporter{err: errors.Importf("must not be called")}
		n.join(t, "room-1", "alice")
		bob, _ := n.join(t, "room-1", "bob")

		err := n.documents.Import(ctx, bob, domain.GitCloneCommand{RepoURL: "https://example.com/r.git", FilePath: "a.py"})

		req.ErrorIs(err, errors.ErrPermission)
		req.NotErrorIs(err, errors.ErrImport)
	})
}
