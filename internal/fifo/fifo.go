package fifo

// Circular Fifo used to queue received frames between the bus driver
// and the cyclic processing. One slot is always kept free.
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
	overflow uint32
}

func NewFifo[T any](size uint16) *Fifo[T] {
	if size < 2 {
		size = 2
	}
	return &Fifo[T]{buffer: make([]T, size)}
}

func (f *Fifo[T]) Reset() {
	f.readPos = 0
	f.writePos = 0
}

func (f *Fifo[T]) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo[T]) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Number of elements dropped because the fifo was full
func (f *Fifo[T]) Overflow() uint32 {
	return f.overflow
}

// Push a single element, returns false if full
func (f *Fifo[T]) Push(element T) bool {
	writePosNext := f.writePos + 1
	if writePosNext == len(f.buffer) {
		writePosNext = 0
	}
	if writePosNext == f.readPos {
		f.overflow++
		return false
	}
	f.buffer[f.writePos] = element
	f.writePos = writePosNext
	return true
}

// Write elements to fifo and return number of elements written
func (f *Fifo[T]) Write(elements []T) int {
	writeCounter := 0
	for _, element := range elements {
		if !f.Push(element) {
			break
		}
		writeCounter++
	}
	return writeCounter
}

// Pop the oldest element
func (f *Fifo[T]) Pop() (T, bool) {
	var element T
	if f.readPos == f.writePos {
		return element, false
	}
	element = f.buffer[f.readPos]
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return element, true
}

// Read elements from fifo and return number of elements read
func (f *Fifo[T]) Read(buffer []T) int {
	readCounter := 0
	for index := range buffer {
		element, ok := f.Pop()
		if !ok {
			break
		}
		buffer[index] = element
		readCounter++
	}
	return readCounter
}
