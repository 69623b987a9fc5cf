package application

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBindings() []TopicBinding {
	return []TopicBinding{
		{DeviceID: "2", Topic: "relay/2"},
		{DeviceID: "1", Topic: "relay/1"},
	}
}

func TestTopicRegistry_Resolve(t *testing.T) {
	registry, err := NewTopicRegistry(testBindings())
	require.NoError(t, err)

	topic, err := registry.Resolve("1")
	require.NoError(t, err)
	assert.Equal(t, "relay/1", topic)

	_, err = registry.Resolve("unknown-device")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDevice))

	deviceID, ok := registry.DeviceForTopic("relay/2")
	assert.True(t, ok)
	assert.Equal(t, "2", deviceID)

	_, ok = registry.DeviceForTopic("relay/3")
	assert.False(t, ok)

	assert.Equal(t, []string{"relay/1", "relay/2"}, registry.Topics())
	assert.Equal(t, "1", registry.Bindings()[0].DeviceID)
}

func TestTopicRegistry_BindingsIsCopy(t *testing.T) {
	registry, err := NewTopicRegistry(testBindings())
	require.NoError(t, err)

	bindings := registry.Bindings()
	bindings[0].Topic = "changed"

	topic, err := registry.Resolve("1")
	require.NoError(t, err)
	assert.Equal(t, "relay/1", topic)
}

func TestNewTopicRegistry_Invalid(t *testing.T) {
	_, err := NewTopicRegistry(nil)
	require.Error(t, err)

	_, err = NewTopicRegistry([]TopicBinding{{DeviceID: "1", Topic: "a"}, {DeviceID: "1", Topic: "b"}})
	require.Error(t, err)

	_, err = NewTopicRegistry([]TopicBinding{{DeviceID: "1", Topic: "a"}, {DeviceID: "2", Topic: "a"}})
	require.Error(t, err)

	_, err = NewTopicRegistry([]TopicBinding{{DeviceID: "", Topic: "a"}})
	require.Error(t, err)
}

func TestParseTopicBinding(t *testing.T) {
	b, err := ParseTopicBinding(" 1 = x12kf9_a1/relay/1 ")
	require.NoError(t, err)
	assert.Equal(t, TopicBinding{DeviceID: "1", Topic: "x12kf9_a1/relay/1"}, b)

	for _, s := range []string{"", "1", "=topic", "1="} {
		_, err := ParseTopicBinding(s)
		assert.Error(t, err, s)
	}
}
