package config

// Built-in tool and parameter names
const (
	// CanvasServerName is the in-process server that hosts the canvas tool
	CanvasServerName = "canvas"
	// CanvasToolName is the namespaced canvas tool; it carries no data access and is always authorized
	CanvasToolName = "canvas_canvas"
	// UsernameParam receives the authenticated identity whenever a tool declares it
	UsernameParam = "username"
	// FilenameParam names a single uploaded file
	FilenameParam = "filename"
	// FileNamesParam names several uploaded files
	FileNamesParam = "file_names"
	// OriginalFilenameKey is the breadcrumb recording the logical name behind a resolved URL
	OriginalFilenameKey = "original_filename"
	// OriginalFileNamesKey is the list form of OriginalFilenameKey
	OriginalFileNamesKey = "original_file_names"
)

// BookkeepingKeys are argument keys the pipeline itself adds; they are stripped
// before execution unless the tool explicitly declares them.
func BookkeepingKeys() []string {
	return []string{
		OriginalFilenameKey,
		OriginalFileNamesKey,
	}
}
