package lobby

import (
	"slices"
	"strings"

	"lobbylink/protocol"
)

// Directory 远端玩家目录，按 id 索引。
// 只由 Client 在 Tick 线程中修改；对外只提供副本。
type Directory struct {
	players map[string]RemotePlayer
}

// NewDirectory 创建空目录
func NewDirectory() *Directory {
	return &Directory{players: make(map[string]RemotePlayer)}
}

// Upsert 插入或原地更新位置；返回该 id 之前是否已存在
func (d *Directory) Upsert(id string, pos protocol.Vec2) bool {
	_, existed := d.players[id]
	d.players[id] = RemotePlayer{ID: id, Pos: pos}
	return existed
}

// Remove 移除玩家；返回是否确实存在
func (d *Directory) Remove(id string) bool {
	if _, ok := d.players[id]; !ok {
		return false
	}
	delete(d.players, id)
	return true
}

// Reset 清空目录（全量重同步或主动断开）
func (d *Directory) Reset() {
	clear(d.players)
}

// Get 按 id 查询
func (d *Directory) Get(id string) (RemotePlayer, bool) {
	p, ok := d.players[id]
	return p, ok
}

// Len 当前玩家数
func (d *Directory) Len() int {
	return len(d.players)
}

// Snapshot 返回按 id 排序的只读副本
func (d *Directory) Snapshot() []RemotePlayer {
	out := make([]RemotePlayer, 0, len(d.players))
	for _, p := range d.players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b RemotePlayer) int { return strings.Compare(a.ID, b.ID) })
	return out
}
