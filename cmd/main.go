package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/configs"
	"github.com/escrowhouse/auction-engine/internal/auth"
	"github.com/escrowhouse/auction-engine/internal/bank"
	"github.com/escrowhouse/auction-engine/internal/database"
	"github.com/escrowhouse/auction-engine/internal/engine"
	"github.com/escrowhouse/auction-engine/internal/handlers/websocket"
	"github.com/escrowhouse/auction-engine/internal/registry"
	"github.com/escrowhouse/auction-engine/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	eng *engine.Engine
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Define the model for the Bubble Tea application
type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func auctionRows() []table.Row {
	rows := make([]table.Row, 0)
	for _, auction := range eng.Auctions() {
		winner := "-"
		if auction.Winner != "" {
			winner = auction.Winner
		}

		offers, err := eng.GetOffers(auction.ID)
		if err != nil {
			log.Error("Error getting offers: ", err)
			continue
		}

		row := []string{
			fmt.Sprintf("%d", auction.ID),
			auction.Owner,
			string(auction.Status),
			winner,
			fmt.Sprintf("%d", len(offers)),
		}
		rows = append(rows, row)
	}
	return rows
}

func newTable() model {
	columns := []table.Column{
		{Title: "AUCTION ID", Width: 12},
		{Title: "OWNER", Width: 20},
		{Title: "STATUS", Width: 10},
		{Title: "WINNER", Width: 20},
		{Title: "OFFERS", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(auctionRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(auctionRows())
		} else {
			// refresh logs to get new logs
			m.logs = nil
			logs := strings.Split(m.logBuffer.String(), "\n")
			m.logs = append(m.logs, logs...)
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1) // Scroll up one line in logs
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1) // Scroll down one line in logs
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				// Load logs from buffer when switching to logs view
				m.logs = nil
				logs := strings.Split(m.logBuffer.String(), "\n")
				m.logs = append(m.logs, logs...)
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	// Create a copy of logs to avoid modifying the original
	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)

	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	// The local asset registry and account ledger stand in for the
	// external capabilities the engine consumes in production.
	registries := registry.NewDirectory()
	registries.Register("local", registry.NewMemory())
	ledger := bank.NewMemory()

	var journal engine.Journal
	var db database.Service
	if cfg.Features.EnableJournal {
		db = database.New(cfg)
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("Error migrating journal: ", err)
		}
		journal = db
	}

	eng = engine.New(engine.Config{
		EscrowAccount: cfg.Engine.EscrowAccount,
		EventBuffer:   cfg.Engine.EventBuffer,
	}, registries, ledger, journal)
	defer eng.Close()

	// Rehydrate the arena from the journal
	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		auctions, err := db.GetAuctions(ctx)
		if err != nil {
			log.Fatal("Error loading auctions from journal: ", err)
		}
		offers, err := db.GetOffers(ctx)
		if err != nil {
			log.Fatal("Error loading offers from journal: ", err)
		}
		if err := eng.Restore(auctions, offers); err != nil {
			log.Fatal("Error restoring arena: ", err)
		}
		log.Infof("Restored %d auctions from journal", len(auctions))
	}

	validator, err := auth.NewValidator(cfg)
	if err != nil {
		log.Fatal("Error setting up auth: ", err)
	}

	// Initialize WebSocket handler and wire it into the event stream
	auctionHandler := websocket.NewAuctionHandler(eng, validator, cfg.Features.AllowCrossOrigin)
	eng.AttachSink(auctionHandler.EventSink())

	// Setup routes
	http.HandleFunc("/ws/auction", auctionHandler.HandleAuctions)

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Start Bubble Tea program
	m := newTable()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running Bubble Tea program: %v", err)
	}
}
