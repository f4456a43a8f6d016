package model

// FlattenComments walks a nested reply tree depth-first and returns a flat
// record list. post_id, parent_id, depth and thread_path are assigned during
// the walk rather than trusted from the payload when absent, and the nested
// replies array is stripped from every emitted row.
//
// thread_path is built as parentPath/commentID with the post ID as the root,
// so a three-level thread under post p yields p/c1, p/c1/c2, p/c1/c2/c3.
func FlattenComments(comments []Row, postID string) []Row {
	out := make([]Row, 0, len(comments))
	flatten(comments, postID, "", 0, postID, &out)
	return out
}

func flatten(comments []Row, postID, parentID string, depth int, threadPath string, out *[]Row) {
	for _, c := range comments {
		id, _ := c["id"].(string)
		if postID != "" && c["post_id"] == nil {
			c["post_id"] = postID
		}
		if parentID != "" && c["parent_id"] == nil {
			c["parent_id"] = parentID
		}
		if _, ok := c["depth"]; !ok {
			c["depth"] = depth
		}
		if _, ok := c["thread_path"]; !ok {
			switch {
			case threadPath != "" && id != "":
				c["thread_path"] = threadPath + "/" + id
			case threadPath != "":
				c["thread_path"] = threadPath
			case id != "":
				c["thread_path"] = id
			}
		}

		var replies []Row
		if raw, ok := c["replies"].([]any); ok {
			replies = toRows(raw)
		}
		delete(c, "replies")
		*out = append(*out, c)

		if len(replies) > 0 {
			nextParent := id
			if nextParent == "" {
				nextParent = parentID
			}
			nextPath, _ := c["thread_path"].(string)
			if nextPath == "" {
				nextPath = threadPath
			}
			flatten(replies, postID, nextParent, depth+1, nextPath, out)
		}
	}
}
