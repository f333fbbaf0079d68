package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sebdah/goldie/v2"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nextCallStub struct {
	batches  [][]snowflake.ID
	triggers []nextcalldomain.Trigger
	fail     map[snowflake.ID]error
}

func (n *nextCallStub) Recalculate(ctx context.Context, id snowflake.ID) (schedule.State, error) {
	return schedule.State{}, nil
}

func (n *nextCallStub) RecalculateBatch(ctx context.Context, ids []snowflake.ID) []nextcalldomain.BatchResult {
	n.batches = append(n.batches, ids)
	n.triggers = append(n.triggers, nextcalldomain.TriggerFromContext(ctx))

	next := time.Date(2025, 1, 14, 15, 0, 0, 0, time.UTC)
	cbc := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	results := make([]nextcalldomain.BatchResult, 0, len(ids))
	for _, id := range ids {
		if err := n.fail[id]; err != nil {
			results = append(results, nextcalldomain.BatchResult{OpportunityID: id, Error: err.Error(), Err: err})
			continue
		}
		state := schedule.State{
			NextCall: schedule.Attribution{Date: &next, Source: meetingdomain.SourceCalendar, EventID: "evt-1"},
			CBC:      &cbc,
		}
		results = append(results, nextcalldomain.BatchResult{OpportunityID: id, State: &state})
	}
	return results
}

func (n *nextCallStub) SetManualNextCallDate(ctx context.Context, id snowflake.ID, date *time.Time) (opportunitydomain.Opportunity, error) {
	return opportunitydomain.Opportunity{}, nil
}

func (n *nextCallStub) ChangeStage(ctx context.Context, id snowflake.ID, stage opportunitydomain.Stage) (opportunitydomain.Opportunity, error) {
	return opportunitydomain.Opportunity{}, nil
}

func TestParseOpportunityIDs(t *testing.T) {
	ids, err := parseOpportunityIDs([]string{"11", " 12 "})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{11, 12}, ids)

	_, err = parseOpportunityIDs([]string{"0"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecalculateTextOutput(t *testing.T) {
	stub := &nextCallStub{fail: map[snowflake.ID]error{12: errors.New("source_unavailable: calendar")}}
	buf := &bytes.Buffer{}

	err := recalculate(context.Background(), stub, []snowflake.ID{11, 12, 13}, &OutputFormatter{Format: "text", Writer: buf})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, [][]snowflake.ID{{11, 12, 13}}, stub.batches)
	assert.Equal(t, []nextcalldomain.Trigger{nextcalldomain.TriggerManual}, stub.triggers)

	g := goldie.New(t)
	g.Assert(t, "recalculate_text", buf.Bytes())
}

func TestRecalculateJSONOutput(t *testing.T) {
	stub := &nextCallStub{}
	buf := &bytes.Buffer{}

	require.NoError(t, recalculate(context.Background(), stub, []snowflake.ID{11}, &OutputFormatter{Format: "json", Writer: buf}))

	var resp struct {
		Status string      `json:"status"`
		Data   batchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Succeeded)
	assert.Equal(t, 0, resp.Data.Failed)
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, snowflake.ID(11), resp.Data.Results[0].OpportunityID)
	require.NotNil(t, resp.Data.Results[0].State)
	assert.Equal(t, "evt-1", resp.Data.Results[0].State.NextCall.EventID)
}
