package domain

// Inbound message types. Aliases share the same command.
const (
	TypeJoin             MessageType = "join"
	TypeTakeTurn         MessageType = "take_turn"
	TypeGiveTurn         MessageType = "give_turn"
	TypeRequestLock      MessageType = "request_lock"
	TypeReleaseLock      MessageType = "release_lock"
	TypeCodeUpdate       MessageType = "code_update"
	TypeCode             MessageType = "code"
	TypeChatMessage      MessageType = "chat_message"
	TypeChat             MessageType = "chat"
	TypeFileUpload       MessageType = "file_upload"
	TypeGitClone         MessageType = "git_clone"
	TypeCreateSuggestion MessageType = "create_suggestion"
	TypeHandleSuggestion MessageType = "handle_suggestion"
)

// Envelope is the part of every inbound frame read before the typed command.
type Envelope struct {
	Type MessageType `json:"type" validate:"required"`
}

type Command interface {
	CommandType() MessageType
}

type JoinCommand struct {
	User string `json:"user" validate:"omitempty,max=64"`
}

func (JoinCommand) CommandType() MessageType { return TypeJoin }

// TurnCommand is take_turn or give_turn; an empty user means the sender.
type TurnCommand struct {
	Kind MessageType `json:"-"`
	User string      `json:"user" validate:"omitempty,max=64"`
}

func (c TurnCommand) CommandType() MessageType { return c.Kind }

type LockCommand struct {
	Kind MessageType `json:"-"`
}

func (c LockCommand) CommandType() MessageType { return c.Kind }

// CodeUpdateCommand accepts both the {path, value} and the legacy {content} shapes.
type CodeUpdateCommand struct {
	Path    string  `json:"path" validate:"omitempty,max=255"`
	Value   *string `json:"value"`
	Content *string `json:"content"`
}

func (CodeUpdateCommand) CommandType() MessageType { return TypeCodeUpdate }

// Text returns the new content and whether one was provided.
func (c CodeUpdateCommand) Text() (string, bool) {
	if c.Value != nil {
		return *c.Value, true
	}
	if c.Content != nil {
		return *c.Content, true
	}
	return "", false
}

type ChatCommand struct {
	Message string `json:"message" validate:"required,max=4000"`
}

func (ChatCommand) CommandType() MessageType { return TypeChatMessage }

type FileUploadCommand struct {
	Filename string `json:"filename" validate:"omitempty,max=255"`
	Path     string `json:"path" validate:"omitempty,max=255"`
	Content  string `json:"content"`
}

func (FileUploadCommand) CommandType() MessageType { return TypeFileUpload }

type GitCloneCommand struct {
	RepoURL  string `json:"repo_url" validate:"required,url"`
	FilePath string `json:"file_path" validate:"required,max=1024"`
	Path     string `json:"path" validate:"omitempty,max=255"`
}

func (GitCloneCommand) CommandType() MessageType { return TypeGitClone }

type CreateSuggestionCommand struct {
	LineStart     int    `json:"line_start" validate:"gte=0"`
	LineEnd       int    `json:"line_end" validate:"gtefield=LineStart"`
	OriginalCode  string `json:"original_code"`
	SuggestedCode string `json:"suggested_code" validate:"required"`
}

func (CreateSuggestionCommand) CommandType() MessageType { return TypeCreateSuggestion }

type HandleSuggestionCommand struct {
	SuggestionID int64  `json:"suggestion_id" validate:"required,gt=0"`
	Action       string `json:"action" validate:"required,oneof=accept reject"`
}

func (HandleSuggestionCommand) CommandType() MessageType { return TypeHandleSuggestion }
