// File: internal/assets/tokens.go
package assets

// Literal marker tokens embedded in HUD asset text. Substitution is total
// string replacement: every occurrence of a marker is replaced; markers not
// present in an asset are no-ops, and unknown markers are left untouched.
//
// The quoted forms exist because the panel/drawer and tool-manifest markers
// sit in JavaScript source as string literals; replacing the quotes along
// with the marker keeps linters happy with the shipped asset files.
const (
	TokenURL          = "<<URL>>"
	TokenSharedSecret = "<<HUD_SHARED_SECRET>>"
	TokenFilesBase    = "<<HUD_FILES>>"
	TokenWebSocket    = "<<HUD_WS>>"
	TokenTools        = "'<<HUD_TOOLS>>'"
	TokenToolsLeft    = "'<<HUD_CONFIG_TOOLS_LEFT>>'"
	TokenToolsRight   = "'<<HUD_CONFIG_TOOLS_RIGHT>>'"
	TokenDrawer       = "'<<HUD_CONFIG_DRAWER>>'"
	TokenLocale       = "<<HUD_LOCALE>>"
	TokenDevMode      = "<<DEV_MODE>>"
	TokenShowWelcome  = "<<SHOW_WELCOME_SCREEN>>"
	TokenTutorialURL  = "<<TUTORIAL_URL>>"
)

// Well-known asset identities with file-specific substitution rules.
const (
	// InjectScript is the only asset embedded directly into target
	// pages; it receives the minimal URL + secret tokens and nothing
	// else.
	InjectScript = "target/inject.js"

	ServiceWorkerScript = "serviceworker.js"
	I18nScript          = "i18n.js"
	UtilsScript         = "utils.js"
	ManagementScript    = "management.js"
	ManagementHTML      = "management.html"
)

// UI layout option keys read from the option store for the service worker.
const (
	UIOptionLeftPanel  = "leftPanel"
	UIOptionRightPanel = "rightPanel"
	UIOptionDrawer     = "drawer"
)
