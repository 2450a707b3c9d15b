/**
 * 代理分配器
 * @date: 2026.10.17
 * @description: 内存中的代理注册表。按注册顺序首个匹配 (first-fit):
 *   状态为 available、能力集合包含任务所需能力、并发信号量仍有空位。
 *   每个代理一个大小为 MaxConcurrentTasks 的信号量。
 */
package allocator

import (
	"sort"
	"sync"

	orcModel "neotask/internal/model/orchestrator"

	"golang.org/x/sync/semaphore"
)

// MatchResult 匹配结果
type MatchResult int

const (
	// Matched 已分配
	Matched MatchResult = iota
	// NoCapableAgent 没有能力匹配且可用的代理
	NoCapableAgent
	// Saturated 有匹配的代理，但并发已满
	Saturated
)

// Lease 一次分配占用的代理槽位
type Lease struct {
	AgentID string
	Agent   orcModel.Agent
	TaskID  string

	alloc *Allocator
	entry *entry
	once  sync.Once
}

// Release 释放槽位，可重复调用
func (l *Lease) Release() {
	l.once.Do(func() {
		l.alloc.release(l.entry, l.TaskID)
	})
}

type entry struct {
	agent  orcModel.Agent
	max    int64
	sem    *semaphore.Weighted
	active map[string]struct{}

	// overflow 并发上限调小后，进行中但没有占到新信号量槽位的任务数
	overflow int
	// next 并发上限变化后替换本 entry 的新 entry，旧租约释放到最新的 entry
	next *entry
}

// Allocator 代理分配器
type Allocator struct {
	mu     sync.Mutex
	order  []string
	agents map[string]*entry
}

// NewAllocator 创建分配器
func NewAllocator() *Allocator {
	return &Allocator{agents: make(map[string]*entry)}
}

// Register 注册代理，状态置为 available；重复注册会替换代理信息但保留进行中的任务
func (a *Allocator) Register(agent orcModel.Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	agent.Config = agent.Config.WithDefaults()
	agent.Status = orcModel.AgentStatusAvailable

	limit := int64(agent.Config.MaxConcurrentTasks)
	old, ok := a.agents[agent.AgentID]
	if ok && limit == old.max {
		old.agent = agent
		return
	}

	e := &entry{
		agent:  agent,
		max:    limit,
		sem:    semaphore.NewWeighted(limit),
		active: make(map[string]struct{}),
	}
	if ok {
		// 并发上限变化时新建信号量，进行中的任务转入新 entry 并占用新槽位
		for id := range old.active {
			e.active[id] = struct{}{}
		}
		held := min(int64(len(e.active)), limit)
		e.sem.TryAcquire(held)
		e.overflow = len(e.active) - int(held)
		old.next = e
	} else {
		a.order = append(a.order, agent.AgentID)
	}
	a.agents[agent.AgentID] = e
}

// Deregister 移除代理，返回其进行中的任务
func (a *Allocator) Deregister(agentID string) ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.agents[agentID]
	if !ok {
		return nil, false
	}
	delete(a.agents, agentID)
	for i, id := range a.order {
		if id == agentID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return activeIDs(e), true
}

// SetStatus 修改代理状态；这是唯一改变状态的入口
func (a *Allocator) SetStatus(agentID string, status orcModel.AgentStatus) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.agents[agentID]
	if !ok {
		return false
	}
	e.agent.Status = status
	return true
}

// Acquire 为任务选择代理并占用一个槽位
func (a *Allocator) Acquire(task *orcModel.Task) (*Lease, MatchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := NoCapableAgent
	for _, id := range a.order {
		e := a.agents[id]
		if e.agent.Status != orcModel.AgentStatusAvailable || !e.agent.HasCapabilities(task.RequiredCapabilities) {
			continue
		}
		if !e.sem.TryAcquire(1) {
			result = Saturated
			continue
		}
		e.active[task.TaskID] = struct{}{}
		return &Lease{AgentID: id, Agent: e.agent, TaskID: task.TaskID, alloc: a, entry: e}, Matched
	}
	return nil, result
}

func (a *Allocator) release(e *entry, taskID string) {
	a.mu.Lock()
	for e.next != nil {
		e = e.next
	}
	delete(e.active, taskID)
	if e.overflow > 0 {
		e.overflow--
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	e.sem.Release(1)
}

// Get 获取代理
func (a *Allocator) Get(agentID string) (orcModel.Agent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.agents[agentID]
	if !ok {
		return orcModel.Agent{}, false
	}
	return e.agent, true
}

// ActiveTasks 代理进行中的任务数
func (a *Allocator) ActiveTasks(agentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.agents[agentID]; ok {
		return len(e.active)
	}
	return 0
}

// Snapshot 注册表快照，按注册顺序
func (a *Allocator) Snapshot() []orcModel.AgentSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]orcModel.AgentSnapshot, 0, len(a.order))
	for _, id := range a.order {
		e := a.agents[id]
		out = append(out, orcModel.AgentSnapshot{
			AgentID:      id,
			Name:         e.agent.Name,
			Status:       e.agent.Status,
			Capabilities: e.agent.Capabilities,
			ActiveTasks:  activeIDs(e),
			MaxTasks:     int(e.max),
		})
	}
	return out
}

func activeIDs(e *entry) []string {
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
