package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

func TestValidateJobTypeName_Valid(t *testing.T) {
	validNames := []string{
		"send-email",
		"processOrder",
		"task_1",
		"MyJob",
		"a",
		"job.subtask",
		"Send_Email_V2",
	}

	for _, name := range validNames {
		err := ValidateJobTypeName(name)
		assert.NoError(t, err, "Expected %q to be valid", name)
	}
}

func TestValidateJobTypeName_Invalid(t *testing.T) {
	invalidNames := []string{
		"",                       // empty
		"123-task",               // starts with number
		"-task",                  // starts with hyphen
		"task with spaces",       // contains spaces
		"task@email",             // contains special char
		"task/subtask",           // contains slash
		strings.Repeat("a", 300), // too long
	}

	for _, name := range invalidNames {
		err := ValidateJobTypeName(name)
		assert.Error(t, err, "Expected %q to be invalid", name)
	}
}

func TestValidateQueueName_Valid(t *testing.T) {
	validNames := []string{
		"default",
		"high-priority",
		"emails_v2",
	}

	for _, name := range validNames {
		err := ValidateQueueName(name)
		assert.NoError(t, err, "Expected %q to be valid", name)
	}
}

func TestValidateQueueName_Invalid(t *testing.T) {
	invalidNames := []string{
		"",
		"queue with spaces",
		strings.Repeat("q", 300),
	}

	for _, name := range invalidNames {
		err := ValidateQueueName(name)
		assert.Error(t, err, "Expected %q to be invalid", name)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal message",
			input:    "connection refused",
			expected: "connection refused",
		},
		{
			name:     "message with newlines",
			input:    "error on\nline 2",
			expected: "error on\nline 2",
		},
		{
			name:     "message with null bytes",
			input:    "error\x00with\x00nulls",
			expected: "errorwithnulls",
		},
		{
			name:     "empty message",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeErrorMessage(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSanitizeErrorMessage_Truncation(t *testing.T) {
	longMessage := strings.Repeat("a", 5000)
	result := SanitizeErrorMessage(longMessage)

	assert.LessOrEqual(t, len(result), MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(result, "..."))
}

func TestClampRetries(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 0},
		{0, 0},
		{5, 5},
		{50, 50},
		{100, 100},
		{101, 100},
		{1000, 100},
	}

	for _, tt := range tests {
		result := ClampRetries(tt.input)
		assert.Equal(t, tt.expected, result, "ClampRetries(%d)", tt.input)
	}
}

func TestClampConcurrency(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 1},
		{0, 1},
		{1, 1},
		{10, 10},
		{500, 500},
		{1000, 1000},
		{1001, 1000},
		{5000, 1000},
	}

	for _, tt := range tests {
		result := ClampConcurrency(tt.input)
		assert.Equal(t, tt.expected, result, "ClampConcurrency(%d)", tt.input)
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 255, MaxJobTypeNameLength)
	assert.Equal(t, 1<<20, DefaultMaxPayloadBytes) // 1MB
	assert.Equal(t, 100, MaxRetries)
	assert.Equal(t, 1000, MaxConcurrency)
	assert.Equal(t, 4096, MaxErrorMessageLength)
	assert.Equal(t, 255, MaxQueueNameLength)
	assert.Equal(t, 255, MaxIdempotencyKeyLength)
}

func TestValidateTenant(t *testing.T) {
	assert.NoError(t, ValidateTenant("acme"))
	assert.NoError(t, ValidateTenant("tenant:42/eu"))
	assert.ErrorIs(t, ValidateTenant(""), core.ErrInvalidTenant)
	assert.ErrorIs(t, ValidateTenant("bad\x00tenant"), core.ErrInvalidTenant)
	assert.ErrorIs(t, ValidateTenant(core.TenantID(strings.Repeat("t", 300))), core.ErrInvalidTenant)
}

func TestValidateIdempotencyKey(t *testing.T) {
	assert.NoError(t, ValidateIdempotencyKey(""))
	assert.NoError(t, ValidateIdempotencyKey("order-123"))
	assert.ErrorIs(t, ValidateIdempotencyKey(strings.Repeat("k", 256)), core.ErrIdempotencyKeyTooLong)
}

func TestValidateMessage(t *testing.T) {
	valid := core.JobMessage{Type: "email.send", Queue: "emails", Payload: []byte("{}"), MaxRetries: 3}
	assert.NoError(t, ValidateMessage(valid, 16))

	noQueue := valid
	noQueue.Queue = ""
	assert.NoError(t, ValidateMessage(noQueue, 16), "empty queue falls back to the backend default")

	tests := []struct {
		name   string
		mutate func(*core.JobMessage)
		want   error
	}{
		{"bad type", func(m *core.JobMessage) { m.Type = "1bad" }, core.ErrInvalidJobTypeName},
		{"bad queue", func(m *core.JobMessage) { m.Queue = "with space" }, core.ErrInvalidQueueName},
		{"negative retries", func(m *core.JobMessage) { m.MaxRetries = -1 }, core.ErrInvalidMaxRetries},
		{"too many retries", func(m *core.JobMessage) { m.MaxRetries = MaxRetries + 1 }, core.ErrInvalidMaxRetries},
		{"bad priority", func(m *core.JobMessage) { m.Priority = 9 }, core.ErrInvalidPriority},
		{"payload too large", func(m *core.JobMessage) { m.Payload = make([]byte, 17) }, core.ErrPayloadTooLarge},
		{"key too long", func(m *core.JobMessage) { m.IdempotencyKey = strings.Repeat("k", 300) }, core.ErrIdempotencyKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			tt.mutate(&msg)
			assert.ErrorIs(t, ValidateMessage(msg, 16), tt.want)
		})
	}
}
