package vts

import "encoding/json"

// envelope is the wire frame shared by every request, response and event of
// the avatar host's public API.
type envelope struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID,omitempty"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

const (
	apiName    = "VTubeStudioPublicAPI"
	apiVersion = "1.0"

	messageTypeAPIError = "APIError"
)

// apiErrorData is the data payload of an APIError frame.
type apiErrorData struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

// ── API state / authentication ───────────────────────────────────────────────

// APIState reports the host's API status for the current session.
type APIState struct {
	Active                      bool   `json:"active"`
	Version                     string `json:"vTubeStudioVersion"`
	CurrentSessionAuthenticated bool   `json:"currentSessionAuthenticated"`
}

type authTokenRequest struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
	PluginIcon      string `json:"pluginIcon,omitempty"`
}

type authTokenResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type authRequest struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type authResponse struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason"`
}

// ── Host info ────────────────────────────────────────────────────────────────

// Statistics is the host's runtime statistics payload.
type Statistics struct {
	Uptime              int64  `json:"uptime"`
	Framerate           int    `json:"framerate"`
	AllowedPlugins      int    `json:"allowedPlugins"`
	ConnectedPlugins    int    `json:"connectedPlugins"`
	StartedWithSteam    bool   `json:"startedWithSteam"`
	WindowWidth         int    `json:"windowWidth"`
	WindowHeight        int    `json:"windowHeight"`
	WindowIsFullscreen  bool   `json:"windowIsFullscreen"`
	VTubeStudioVersion  string `json:"vTubeStudioVersion"`
	ActiveModelsLoading bool   `json:"activeModelsLoading,omitempty"`
}

// FolderInfo lists the host's content directory names.
type FolderInfo struct {
	Models     string `json:"models"`
	Backgrounds string `json:"backgrounds"`
	Items      string `json:"items"`
	Config     string `json:"config"`
	Logs       string `json:"logs"`
	Backup     string `json:"backup"`
}

// ── Models ───────────────────────────────────────────────────────────────────

// CurrentModel describes the model currently loaded in the host.
type CurrentModel struct {
	ModelLoaded       bool    `json:"modelLoaded"`
	ModelName         string  `json:"modelName"`
	ModelID           string  `json:"modelID"`
	VTSModelName      string  `json:"vtsModelName"`
	VTSModelIconName  string  `json:"vtsModelIconName"`
	Live2DModelName   string  `json:"live2DModelName"`
	ModelLoadTime     int64   `json:"modelLoadTime"`
	TimeSinceModelLoaded int64 `json:"timeSinceModelLoaded"`
	NumberOfLive2DParameters int `json:"numberOfLive2DParameters"`
	NumberOfLive2DArtmeshes  int `json:"numberOfLive2DArtmeshes"`
	HasPhysicsFile    bool    `json:"hasPhysicsFile"`
	NumberOfTextures  int     `json:"numberOfTextures"`
	TextureResolution int     `json:"textureResolution"`
	ModelPosition     ModelPosition `json:"modelPosition"`
}

// ModelPosition is the on-screen placement of a model.
type ModelPosition struct {
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`
	Rotation  float64 `json:"rotation"`
	Size      float64 `json:"size"`
}

// ModelInfo is one entry of the available-models listing.
type ModelInfo struct {
	ModelLoaded  bool   `json:"modelLoaded"`
	ModelName    string `json:"modelName"`
	ModelID      string `json:"modelID"`
	VTSModelName string `json:"vtsModelName"`
	VTSModelIconName string `json:"vtsModelIconName"`
}

type availableModelsResponse struct {
	NumberOfModels  int         `json:"numberOfModels"`
	AvailableModels []ModelInfo `json:"availableModels"`
}

type modelLoadRequest struct {
	ModelID string `json:"modelID"`
}

type modelLoadResponse struct {
	ModelID string `json:"modelID"`
}

// MoveModelRequest moves, rotates or resizes the current model over a time
// window. Zero TimeInSeconds applies the transform instantly.
type MoveModelRequest struct {
	TimeInSeconds             float64 `json:"timeInSeconds"`
	ValuesAreRelativeToModel  bool    `json:"valuesAreRelativeToModel"`
	PositionX                 float64 `json:"positionX"`
	PositionY                 float64 `json:"positionY"`
	Rotation                  float64 `json:"rotation"`
	Size                      float64 `json:"size"`
}

// ── Parameters ───────────────────────────────────────────────────────────────

// Parameter describes one input or Live2D parameter of the current model.
type Parameter struct {
	Name         string  `json:"name"`
	AddedBy      string  `json:"addedBy,omitempty"`
	Value        float64 `json:"value"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	DefaultValue float64 `json:"defaultValue"`
}

// InputParameterList holds the host's default and plugin-created parameters.
type InputParameterList struct {
	ModelLoaded       bool        `json:"modelLoaded"`
	ModelName         string      `json:"modelName"`
	ModelID           string      `json:"modelID"`
	CustomParameters  []Parameter `json:"customParameters"`
	DefaultParameters []Parameter `json:"defaultParameters"`
}

type live2DParameterListResponse struct {
	ModelLoaded bool        `json:"modelLoaded"`
	ModelName   string      `json:"modelName"`
	ModelID     string      `json:"modelID"`
	Parameters  []Parameter `json:"parameters"`
}

type parameterValueRequest struct {
	Name string `json:"name"`
}

// ParameterValue is one id/value pair of an inject-parameter request.
type ParameterValue struct {
	ID     string  `json:"id"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight,omitempty"`
}

// Inject modes accepted by the host for parameter injection.
const (
	InjectModeSet = "set"
	InjectModeAdd = "add"
)

type injectParameterDataRequest struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

// CreateParameterRequest registers a new custom parameter with the host.
type CreateParameterRequest struct {
	ParameterName string  `json:"parameterName"`
	Explanation   string  `json:"explanation,omitempty"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	DefaultValue  float64 `json:"defaultValue"`
}

type createParameterResponse struct {
	ParameterName string `json:"parameterName"`
}

// ── Expressions / hotkeys ────────────────────────────────────────────────────

// Expression is one expression of the current model.
type Expression struct {
	Name     string `json:"name"`
	File     string `json:"file"`
	Active   bool   `json:"active"`
	AutoDeactivateAfterSeconds bool `json:"autoDeactivateAfterSeconds"`
	SecondsRemaining           float64 `json:"secondsRemaining"`
}

type expressionStateRequest struct {
	Details        bool   `json:"details"`
	ExpressionFile string `json:"expressionFile,omitempty"`
}

type expressionStateResponse struct {
	ModelLoaded bool         `json:"modelLoaded"`
	ModelName   string       `json:"modelName"`
	ModelID     string       `json:"modelID"`
	Expressions []Expression `json:"expressions"`
}

type expressionActivationRequest struct {
	ExpressionFile string `json:"expressionFile"`
	Active         bool   `json:"active"`
}

// Hotkey is one hotkey of the current model.
type Hotkey struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	File        string `json:"file"`
	HotkeyID    string `json:"hotkeyID"`
}

type hotkeyListResponse struct {
	ModelLoaded      bool     `json:"modelLoaded"`
	ModelName        string   `json:"modelName"`
	ModelID          string   `json:"modelID"`
	AvailableHotkeys []Hotkey `json:"availableHotkeys"`
}

type hotkeyTriggerRequest struct {
	HotkeyID string `json:"hotkeyID"`
}

type hotkeyTriggerResponse struct {
	HotkeyID string `json:"hotkeyID"`
}

type faceFoundResponse struct {
	Found bool `json:"found"`
}

// ── Events ───────────────────────────────────────────────────────────────────

type eventSubscriptionRequest struct {
	EventName string `json:"eventName"`
	Subscribe bool   `json:"subscribe"`
	Config    any    `json:"config,omitempty"`
}

type eventSubscriptionResponse struct {
	SubscribedEventCount int      `json:"subscribedEventCount"`
	SubscribedEvents     []string `json:"subscribedEvents"`
}

// Event is a host-initiated message delivered to subscribed handlers. Data is
// left raw so each handler can decode the payload it expects.
type Event struct {
	Type string
	Data json.RawMessage
}

// EventHandler consumes one host event. Handlers run on their own goroutines
// and must not block the client's receive loop.
type EventHandler func(Event)
