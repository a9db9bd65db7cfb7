package scheduler

import "container/heap"

// pendingQueue is a priority heap over pending tasks: higher priority first,
// FIFO within the same priority via monotonic sequence numbers.
type pendingQueue []*Task

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *pendingQueue) Push(x interface{}) {
	task := x.(*Task)
	task.heapIndex = len(*q)
	*q = append(*q, task)
}

func (q *pendingQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.heapIndex = -1
	*q = old[:n-1]
	return task
}

// remove deletes the task at the given heap index.
func (q *pendingQueue) remove(index int) *Task {
	return heap.Remove(q, index).(*Task)
}
