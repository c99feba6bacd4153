package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/obsdb/obsdb/internal/catalog"
	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/status"
	"github.com/obsdb/obsdb/internal/xmlexport"
)

// Server answers read-only questions about the catalog over MCP
type Server struct {
	server  *mcp.Server
	cfg     *config.Config
	catalog *catalog.Store
	version string
}

// NewServer opens the catalog of cfg and registers the tools
func NewServer(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	store := catalog.New(cfg, nil)
	if err := store.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "obsdb",
		Version: version,
	}, nil)

	s := &Server{
		server:  mcpServer,
		cfg:     cfg,
		catalog: store,
		version: version,
	}

	s.registerTools()

	return s, nil
}

// Run serves MCP over stdio until ctx is done
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close releases the catalog
func (s *Server) Close() error {
	return s.catalog.Close()
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "obsdb_status",
		Description: "Show the cursors of the last run and the package counts of each project",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "obsdb_package",
		Description: "Get the catalog entry of a source package",
	}, s.handlePackage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "obsdb_errors",
		Description: "List the packages of a project with a link or devel error",
	}, s.handleErrors)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "obsdb_project_xml",
		Description: "Render the XML document of a project",
	}, s.handleProjectXML)
}

// Input/Output types for each tool

type StatusInput struct{}

type StatusOutput struct {
	Mirror        int64          `json:"mirror"`
	DB            int64          `json:"db"`
	XML           int64          `json:"xml"`
	UpstreamMtime int64          `json:"upstreamMtime"`
	Projects      []ProjectCount `json:"projects"`
}

type ProjectCount struct {
	Name     string `json:"name"`
	Packages int64  `json:"packages"`
	Links    int64  `json:"links"`
	Errors   int64  `json:"errors"`
}

type PackageInput struct {
	Project string `json:"project" jsonschema:"the project holding the package"`
	Package string `json:"package" jsonschema:"the source package name"`
}

type PackageOutput struct {
	Project         string `json:"project"`
	Name            string `json:"name"`
	Version         string `json:"version,omitempty"`
	UpstreamName    string `json:"upstreamName,omitempty"`
	UpstreamVersion string `json:"upstreamVersion,omitempty"`
	UpstreamURL     string `json:"upstreamUrl,omitempty"`
	IsLink          bool   `json:"isLink"`
	LinkProject     string `json:"linkProject,omitempty"`
	LinkPackage     string `json:"linkPackage,omitempty"`
	HasDelta        int    `json:"hasDelta"`
	DevelProject    string `json:"develProject,omitempty"`
	DevelPackage    string `json:"develPackage,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorDetails    string `json:"errorDetails,omitempty"`
}

type ErrorsInput struct {
	Project string  `json:"project" jsonschema:"the project to inspect"`
	Error   *string `json:"error,omitempty" jsonschema:"only list packages with this error"`
}

type ErrorsOutput struct {
	Packages []PackageError `json:"packages"`
}

type PackageError struct {
	Name    string `json:"name"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ProjectXMLInput struct {
	Project string `json:"project" jsonschema:"the project to render"`
}

type ProjectXMLOutput struct {
	Document string `json:"document"`
}

// Tool handlers

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	st, err := status.Load(s.cfg.StatusPath())
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to read status: %w", err)
	}

	counts, err := s.catalog.Counts(ctx)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to count packages: %w", err)
	}

	projects := make([]ProjectCount, 0, len(counts))
	for _, c := range counts {
		projects = append(projects, ProjectCount{Name: c.Name, Packages: c.Packages, Links: c.Links, Errors: c.Errors})
	}

	return nil, StatusOutput{
		Mirror:        st.Mirror,
		DB:            st.DB,
		XML:           st.XML,
		UpstreamMtime: st.UpstreamMtime,
		Projects:      projects,
	}, nil
}

func (s *Server) handlePackage(ctx context.Context, req *mcp.CallToolRequest, input PackageInput) (*mcp.CallToolResult, PackageOutput, error) {
	p, err := s.catalog.Package(ctx, input.Project, input.Package)
	if errors.Is(err, database.ErrNotFound) {
		return nil, PackageOutput{}, fmt.Errorf("package not found: %s/%s", input.Project, input.Package)
	}
	if err != nil {
		return nil, PackageOutput{}, fmt.Errorf("failed to get package: %w", err)
	}

	return nil, PackageOutput{
		Project:         input.Project,
		Name:            p.Name,
		Version:         p.Version,
		UpstreamName:    p.UpstreamName,
		UpstreamVersion: p.UpstreamVersion,
		UpstreamURL:     p.UpstreamURL,
		IsLink:          p.IsLink,
		LinkProject:     p.LinkProject,
		LinkPackage:     p.LinkPackage,
		HasDelta:        p.HasDelta,
		DevelProject:    p.DevelProject,
		DevelPackage:    p.DevelPackage,
		Error:           p.Error,
		ErrorDetails:    p.ErrorDetails,
	}, nil
}

func (s *Server) handleErrors(ctx context.Context, req *mcp.CallToolRequest, input ErrorsInput) (*mcp.CallToolResult, ErrorsOutput, error) {
	projectID, err := s.projectID(ctx, input.Project)
	if err != nil {
		return nil, ErrorsOutput{}, err
	}

	pkgs, err := s.catalog.Packages(ctx, projectID)
	if err != nil {
		return nil, ErrorsOutput{}, fmt.Errorf("failed to list packages: %w", err)
	}

	out := ErrorsOutput{Packages: []PackageError{}}
	for _, p := range pkgs {
		if p.Error == "" {
			continue
		}
		if input.Error != nil && *input.Error != p.Error {
			continue
		}
		out.Packages = append(out.Packages, PackageError{Name: p.Name, Error: p.Error, Details: p.ErrorDetails})
	}
	sort.Slice(out.Packages, func(i, j int) bool { return out.Packages[i].Name < out.Packages[j].Name })

	return nil, out, nil
}

func (s *Server) handleProjectXML(ctx context.Context, req *mcp.CallToolRequest, input ProjectXMLInput) (*mcp.CallToolResult, ProjectXMLOutput, error) {
	data, err := xmlexport.New(s.cfg.XMLDir(), s.catalog).Render(ctx, input.Project)
	if err != nil {
		return nil, ProjectXMLOutput{}, fmt.Errorf("failed to render project: %w", err)
	}

	return nil, ProjectXMLOutput{
		Document: string(data),
	}, nil
}

func (s *Server) projectID(ctx context.Context, name string) (int64, error) {
	projects, err := s.catalog.Projects(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list projects: %w", err)
	}
	for _, p := range projects {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("project not found: %s", name)
}
