package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIDependency is a JSON-friendly dependency record.
type CLIDependency struct {
	Kind         string   `json:"kind"`
	Ref          string   `json:"ref,omitempty"`
	Optional     bool     `json:"optional,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Resolved     *bool    `json:"resolved,omitempty"`
	Text         string   `json:"text"`
}

// CLIAnalysis is the result of analyzing one unit.
type CLIAnalysis struct {
	Unit         string          `json:"unit"`
	Code         string          `json:"code,omitempty"`
	Dependencies []CLIDependency `json:"dependencies"`
	Session      string          `json:"session,omitempty"`
}

// CLICheck is the implemented verdict for one reference.
type CLICheck struct {
	Ref         string `json:"ref"`
	Implemented bool   `json:"implemented"`
}

// CLIRun is the outcome of executing one method.
type CLIRun struct {
	Unit    string `json:"unit"`
	Method  string `json:"method"`
	Result  string `json:"result,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// CLIDisassembly is the readable form of one unit.
type CLIDisassembly struct {
	Unit string `json:"unit"`
	Text string `json:"text"`
}

// CLIAssembled reports an encoded unit written to disk.
type CLIAssembled struct {
	Unit   string `json:"unit"`
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
}

// CLISession is one stored analysis session with its units.
type CLISession struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	StartedAt string          `json:"started_at"`
	Units     []CLIUnitRecord `json:"units"`
}

// CLIUnitRecord is one stored unit.
type CLIUnitRecord struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	AnalyzedAt   string `json:"analyzed_at"`
	Dependencies int    `json:"dependencies"`
}
