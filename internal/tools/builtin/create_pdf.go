package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"atlas/internal/agent/ports"
)

// pdfScript renders a text document to PDF with fpdf2 inside the sandbox.
// The payload travels through a JSON side file so content never needs shell
// escaping. When fpdf is missing the resulting ModuleNotFoundError surfaces
// in the observation and the recovery engine proposes the pip install.
const pdfScript = `import json, sys
from fpdf import FPDF

with open(sys.argv[1]) as f:
    doc = json.load(f)

pdf = FPDF()
pdf.set_auto_page_break(auto=True, margin=15)
pdf.add_page()
if doc.get("title"):
    pdf.set_font("Helvetica", "B", 16)
    pdf.multi_cell(0, 10, doc["title"])
    pdf.ln(4)
pdf.set_font("Helvetica", size=11)
for line in doc["content"].split("\n"):
    stripped = line.strip()
    if stripped.startswith("# "):
        pdf.set_font("Helvetica", "B", 14)
        pdf.multi_cell(0, 8, stripped[2:])
        pdf.set_font("Helvetica", size=11)
    elif stripped.startswith("## "):
        pdf.set_font("Helvetica", "B", 12)
        pdf.multi_cell(0, 7, stripped[3:])
        pdf.set_font("Helvetica", size=11)
    elif stripped:
        pdf.multi_cell(0, 6, line.encode("latin-1", "replace").decode("latin-1"))
    else:
        pdf.ln(3)
pdf.output(doc["path"])
print("wrote", doc["path"])
`

// CreatePDFTool produces a PDF document in the workspace via the sandbox's
// python runtime.
type CreatePDFTool struct {
	env Env
}

func NewCreatePDFTool(env Env) *CreatePDFTool { return &CreatePDFTool{env: env} }

func (t *CreatePDFTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "create_pdf", Category: "document", RequiresSandbox: true}
}

func (t *CreatePDFTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "create_pdf",
		Description: "Create a PDF document in the workspace from text content. Lines starting with '# ' and '## ' become headings.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "Output PDF path relative to the workspace, e.g. 'report.pdf'"},
				"title":   {Type: "string", Description: "Document title (optional)"},
				"content": {Type: "string", Description: "Document body text"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *CreatePDFTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, ok := stringArg(call, "path")
	if !ok {
		return errResult(call, "create_pdf requires a 'path' parameter"), nil
	}
	if !strings.HasSuffix(path, ".pdf") {
		path += ".pdf"
	}
	content, ok := call.Arguments["content"].(string)
	if !ok {
		return errResult(call, "create_pdf requires a 'content' parameter"), nil
	}
	title, _ := stringArg(call, "title")

	hostPath, err := t.env.Runner.ResolvePath(path)
	if err != nil {
		return errResult(call, "invalid path %q: %v", path, err), nil
	}
	rel := workspaceRelative(t.env.Runner.WorkspaceDir(), hostPath)

	// stage the renderer and its payload as hidden workspace files
	workspace := t.env.Runner.WorkspaceDir()
	scriptHost := filepath.Join(workspace, ".atlas_pdf.py")
	payloadHost := filepath.Join(workspace, ".atlas_pdf.json")
	payload, err := json.Marshal(map[string]string{"path": rel, "title": title, "content": content})
	if err != nil {
		return errResult(call, "encode document: %v", err), nil
	}
	if err := os.WriteFile(scriptHost, []byte(pdfScript), 0644); err != nil {
		return errResult(call, "stage renderer: %v", err), nil
	}
	if err := os.WriteFile(payloadHost, payload, 0644); err != nil {
		return errResult(call, "stage document: %v", err), nil
	}
	defer func() {
		_ = os.Remove(scriptHost)
		_ = os.Remove(payloadHost)
	}()

	res, err := t.env.Runner.Execute(ctx, "python3 .atlas_pdf.py .atlas_pdf.json", t.env.commandTimeout())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult(call, "render PDF: %v", err), nil
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return errResult(call, "PDF generation failed (exit code %d): %s", res.ExitCode, detail), nil
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return errResult(call, "PDF generation reported success but %s was not created", rel), nil
	}

	t.env.Files.RegisterFile(rel, true)
	t.env.Logger.Info("create_pdf: %s (%d bytes)", rel, info.Size())
	return &ports.ToolResult{
		CallID:      call.ID,
		Content:     fmt.Sprintf("Successfully created PDF %s (%d bytes)", rel, info.Size()),
		FileCreated: &ports.FileCreated{Path: rel},
	}, nil
}
