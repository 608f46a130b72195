package cache

import "fmt"

// 键语义：
// - channelsKey(pageKey): 页面的编辑通道队列（List<channelID>，队头是锁主）
// - seenKey(pageKey):     通道心跳表（Hash<channelID -> lastSeenUnix>）
// - usersKey(pageKey):    通道归属表（Hash<channelID -> user>）
// - cssKey(pageKey,mode): 编译产物缓存（String）
// - prefsKey(session):    布局偏好（Hash）

const (
	keyChannelsFmt = "channels:page:{pageKey:%s}"
	keySeenFmt     = "channels:seen:{pageKey:%s}"
	keyUsersFmt    = "channels:users:{pageKey:%s}"
	keyCSSFmt      = "css:%s:%s"
	keyPrefsFmt    = "prefs:%s"
)

func channelsKey(pageKey string) string { return fmt.Sprintf(keyChannelsFmt, pageKey) }
func seenKey(pageKey string) string     { return fmt.Sprintf(keySeenFmt, pageKey) }
func usersKey(pageKey string) string    { return fmt.Sprintf(keyUsersFmt, pageKey) }
func cssKey(pageKey, mode string) string {
	return fmt.Sprintf(keyCSSFmt, pageKey, mode)
}
func prefsKey(session string) string { return fmt.Sprintf(keyPrefsFmt, session) }
