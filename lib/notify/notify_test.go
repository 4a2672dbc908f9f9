package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatBatchReport(t *testing.T) {
	body := FormatBatchReport(BatchReport{
		Course: "微观经济学",
		Lines: []BatchLine{
			{VideoId: 159716, Name: "第一章 导论", Signal: "reached_target", Success: true, WatchedSeconds: 100},
			{VideoId: 159717, Name: "第二章 劳动价值论", Signal: "resolution_failed", Detail: "could not resolve resource identity"},
		},
	})

	require.Contains(t, body, "微观经济学")
	require.Contains(t, body, "2 attempted, 1 finished, 1 failed.")
	require.Contains(t, body, "[159716] 第一章 导论 - reached_target (watched 100s)")
	require.Contains(t, body, "[159717] 第二章 劳动价值论 - resolution_failed (watched 0s): could not resolve resource identity")
}

func TestSmtpConfigEnabled(t *testing.T) {
	require.False(t, SmtpConfig{}.Enabled())
	require.False(t, SmtpConfig{Server: "smtp.example.com"}.Enabled())
	require.True(t, SmtpConfig{
		Server:       "smtp.example.com",
		EmailAddress: "bot@example.com",
	}.Enabled())
}
