package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
)

// printStatus renders the local record, the mesh and the branch history as
// a panel dashboard.
func (a *app) printStatus() {
	a.mu.Lock()
	rec := a.next.Record()
	furthest, converged := a.history.Furthest()
	heads := a.history.Heads()
	size := a.history.Len()
	a.mu.Unlock()
	peers := a.group.Peers()

	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)

	statePanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightGreen("|STATE|")).WithTitleTopCenter().Sprintf(
		"Value: %s\nStep: %d\nLottery: %f", rec.State, rec.Time, rec.Lottery,
	)}

	lead := "none yet"
	if converged {
		lead = furthest
	}
	historyPanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightYellow("|HISTORY|")).WithTitleTopCenter().Sprintf(
		"Leading branch: %s\nOpen branches: %s\nRecorded steps: %s",
		lead, strings.Join(heads, ", "), strconv.Itoa(size),
	)}

	meshPanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightCyan("|MESH|")).WithTitleTopCenter().Sprintf(
		"Connected peers: %d\n%s", len(peers), strings.Join(peers, "\n"),
	)}

	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		{statePanel, historyPanel},
		{meshPanel},
	}).Render()
}
