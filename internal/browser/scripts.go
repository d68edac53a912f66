package browser

// HighlightAttribute numbers every interactive element of the current
// observation. Commands address elements only through it.
const HighlightAttribute = "data-highlight-number"

const labelClass = "planloop-highlight-label"

// navigatorScript runs before any page script of every document.
const navigatorScript = `
Object.defineProperty(navigator, 'platform', {get: () => 'Win32'});
Object.defineProperty(navigator, 'vendor', {get: () => 'Google Inc.'});
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
`

const removeHighlightScript = `(() => {
	if (window.planloopLabels) {
		window.planloopLabels.forEach(l => l.remove());
	}
	window.planloopLabels = [];
	document.querySelectorAll('[data-highlight-number]').forEach(el => {
		el.querySelectorAll('.planloop-highlight-label').forEach(l => l.remove());
		el.style.outline = el.dataset.planloopOutline || '';
		delete el.dataset.planloopOutline;
		delete el.dataset.highlightNumber;
	});
	return true;
})()`

// highlightScript numbers the visible interactive elements from 1, draws
// a coloured outline and label on each, and returns how many it tagged.
const highlightScript = `(() => {
	const selectors = [
		'input', 'textarea', 'button', 'select', 'output',
		'a[href]', 'area[href]', '[contenteditable]',
		'[tabindex]:not([tabindex="-1"])',
		'[onclick]', '[ondblclick]', '[onchange]', '[onsubmit]', '[onkeydown]',
		'audio[controls]', 'video[controls]', 'details', 'details > summary',
		'[role="button"]', '[role="checkbox"]', '[role="radio"]', '[role="link"]',
		'[role="textbox"]', '[role="searchbox"]', '[role="combobox"]', '[role="listbox"]',
		'[role="menu"]', '[role="menuitem"]', '[role="slider"]', '[role="switch"]',
		'[role="tab"]', '[role="treeitem"]', '[role="gridcell"]', '[role="option"]',
		'[role="spinbutton"]', 'iframe', 'object', 'embed'
	].join(',');
	const color = () => 'hsl(' + Math.floor(Math.random() * 360) + ', 80%, 35%)';
	window.planloopLabels = window.planloopLabels || [];
	let n = 0;
	document.querySelectorAll(selectors).forEach(el => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility !== 'visible' || el.offsetParent === null) {
			return;
		}
		if (el.dataset.highlightNumber) {
			return;
		}
		n++;
		const c = color();
		el.dataset.highlightNumber = String(n);
		el.dataset.planloopOutline = el.style.outline || '';
		el.style.outline = '2px solid ' + c;

		const rect = el.getBoundingClientRect();
		const label = document.createElement('span');
		label.className = 'planloop-highlight-label';
		label.textContent = String(n);
		Object.assign(label.style, {
			position: 'absolute',
			top: Math.max(0, rect.top + window.pageYOffset) + 'px',
			left: Math.max(0, rect.left + window.pageXOffset) + 'px',
			background: c, color: 'white', font: 'bold 15px Arial',
			padding: '0 4px', borderRadius: '2px', zIndex: '2147483647',
			pointerEvents: 'none'
		});
		document.body.appendChild(label);
		window.planloopLabels.push(label);
	});
	return n;
})()`

// enumerateScript lists the numbered elements in number order.
const enumerateScript = `(() => {
	const text = el => (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim().slice(0, 200);
	return Array.from(document.querySelectorAll('[data-highlight-number]'))
		.map(el => ({
			index: Number(el.dataset.highlightNumber),
			tag: el.tagName.toLowerCase(),
			type: el.getAttribute('type') || '',
			role: el.getAttribute('role') || '',
			text: text(el),
			href: el.getAttribute('href') || '',
			placeholder: el.getAttribute('placeholder') || '',
			html: el.outerHTML.slice(0, 2000)
		}))
		.sort((a, b) => a.index - b.index);
})()`

const pageTextScript = `document.body ? document.body.innerText : ''`
