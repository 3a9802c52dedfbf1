package ptysession

import "testing"

func TestRingBuffer(t *testing.T) {
	t.Run("Basic Write and Read", func(t *testing.T) {
		rb := NewRingBuffer(10)
		input := "12345"
		rb.Write([]byte(input))

		if rb.String() != input {
			t.Errorf("Expected %s, got %s", input, rb.String())
		}
	})

	t.Run("Overflow Wrap Around", func(t *testing.T) {
		rb := NewRingBuffer(5)
		rb.Write([]byte("123"))
		rb.Write([]byte("456"))

		expected := "23456"
		if rb.String() != expected {
			t.Errorf("Expected %s, got %s (Internal Data: %v, Pos: %d)", expected, rb.String(), rb.data, rb.pos)
		}
	})

	t.Run("Write Larger Than Buffer", func(t *testing.T) {
		rb := NewRingBuffer(5)
		input := "1234567890"
		rb.Write([]byte(input))

		expected := "67890"
		if rb.String() != expected {
			t.Errorf("Expected %s, got %s", expected, rb.String())
		}
	})
}
